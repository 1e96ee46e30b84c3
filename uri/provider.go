package uri

// LocalUriProvider resolves the address of the local entity. The RPC client
// stamps it as the source of every request.
type LocalUriProvider interface {
	SourceURI() UUri
}

// StaticProvider is a LocalUriProvider with a fixed authority and entity.
type StaticProvider struct {
	authority string
	ueID      uint32
	version   uint32
}

// NewStaticProvider returns a provider for the given authority and entity.
func NewStaticProvider(authority string, ueID, version uint32) *StaticProvider {
	return &StaticProvider{authority: authority, ueID: ueID, version: version}
}

// Authority returns the authority name.
func (p *StaticProvider) Authority() string {
	return p.authority
}

// SourceURI returns the entity's response sink (resource 0).
func (p *StaticProvider) SourceURI() UUri {
	return p.ResourceURI(ResourceIDResponse)
}

// ResourceURI returns a uri for one of the entity's resources.
func (p *StaticProvider) ResourceURI(resourceID uint16) UUri {
	return UUri{
		AuthorityName:  p.authority,
		UeID:           p.ueID,
		UeVersionMajor: p.version,
		ResourceID:     uint32(resourceID),
	}
}
