// Package uri models the logical addresses of uEntities and their resources.
//
// A UUri names a resource independently of how the transport routes it:
//
//	up://vehicle-1/10AB/1/7FFF
//	     │         │    │ └── resource id (hex)
//	     │         │    └──── major version (hex)
//	     │         └───────── entity id (hex, high 16 bits = instance, low 16 bits = type)
//	     └─────────────────── authority name
package uri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Scheme = "up"

	WildcardAuthority = "*"
	WildcardEntityID  = 0xFFFF_FFFF
	WildcardVersion   = 0xFF
	WildcardResource  = 0xFFFF

	wildcardEntityType     = 0xFFFF
	wildcardEntityInstance = 0xFFFF

	// Resource ids 0x0001-0x7FFF identify RPC methods, 0 identifies the
	// response sink of the calling entity.
	ResourceIDResponse = 0
	maxMethodID        = 0x7FFF
)

var ErrInvalidURI = errors.New("invalid uri")

// UUri is the structured logical identifier of an entity resource.
type UUri struct {
	AuthorityName  string
	UeID           uint32
	UeVersionMajor uint32
	ResourceID     uint32
}

// New builds a UUri and validates the field ranges.
func New(authority string, ueID, version, resource uint32) (UUri, error) {
	u := UUri{AuthorityName: authority, UeID: ueID, UeVersionMajor: version, ResourceID: resource}
	if err := u.Validate(); err != nil {
		return UUri{}, err
	}
	return u, nil
}

// Parse reads the "up://authority/ue_id/version/resource" form. The scheme is
// optional, and "/ue_id/version/resource" denotes a local (authority-less) uri.
func Parse(s string) (UUri, error) {
	rest := strings.TrimPrefix(s, Scheme+":")
	var authority string
	switch {
	case strings.HasPrefix(rest, "//"):
		rest = rest[2:]
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return UUri{}, fmt.Errorf("%w: %q has no path", ErrInvalidURI, s)
		}
		authority, rest = rest[:idx], rest[idx+1:]
	case strings.HasPrefix(rest, "/"):
		rest = rest[1:]
	default:
		return UUri{}, fmt.Errorf("%w: %q must start with // or /", ErrInvalidURI, s)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return UUri{}, fmt.Errorf("%w: %q must have entity, version and resource", ErrInvalidURI, s)
	}
	var fields [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return UUri{}, fmt.Errorf("%w: %q: %v", ErrInvalidURI, s, err)
		}
		fields[i] = uint32(v)
	}
	return New(authority, fields[0], fields[1], fields[2])
}

// Validate checks that version and resource fit their wire widths.
func (u UUri) Validate() error {
	if u.UeVersionMajor > 0xFF {
		return fmt.Errorf("%w: major version %#x exceeds 8 bits", ErrInvalidURI, u.UeVersionMajor)
	}
	if u.ResourceID > 0xFFFF {
		return fmt.Errorf("%w: resource id %#x exceeds 16 bits", ErrInvalidURI, u.ResourceID)
	}
	return nil
}

// EntityType is the low 16 bits of the entity id.
func (u UUri) EntityType() uint16 {
	return uint16(u.UeID & 0xFFFF)
}

// EntityInstance is the high 16 bits of the entity id.
func (u UUri) EntityInstance() uint16 {
	return uint16(u.UeID >> 16)
}

func (u UUri) HasWildcardAuthority() bool { return u.AuthorityName == WildcardAuthority }
func (u UUri) HasWildcardEntityType() bool {
	return u.EntityType() == wildcardEntityType
}
func (u UUri) HasWildcardEntityInstance() bool {
	return u.EntityInstance() == wildcardEntityInstance
}
func (u UUri) HasWildcardVersion() bool  { return u.UeVersionMajor == WildcardVersion }
func (u UUri) HasWildcardResource() bool { return u.ResourceID == WildcardResource }

// IsRpcMethod reports whether the uri addresses an invokable method.
func (u UUri) IsRpcMethod() bool {
	return u.ResourceID >= 1 && u.ResourceID <= maxMethodID
}

// IsRpcResponse reports whether the uri is an entity's response sink.
func (u UUri) IsRpcResponse() bool {
	return u.ResourceID == ResourceIDResponse
}

// IsZero reports whether u is the zero value.
func (u UUri) IsZero() bool {
	return u == UUri{}
}

func (u UUri) String() string {
	var b strings.Builder
	if u.AuthorityName != "" {
		b.WriteString(Scheme)
		b.WriteString("://")
		b.WriteString(u.AuthorityName)
	}
	fmt.Fprintf(&b, "/%X/%X/%X", u.UeID, u.UeVersionMajor, u.ResourceID)
	return b.String()
}

// Any returns a uri matching every entity and resource of every authority.
func Any() UUri {
	return UUri{
		AuthorityName:  WildcardAuthority,
		UeID:           WildcardEntityID,
		UeVersionMajor: WildcardVersion,
		ResourceID:     WildcardResource,
	}
}
