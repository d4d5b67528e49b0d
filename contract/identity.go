package contract

import "fmt"

// Identity is the caller attached to an invocation by the surrounding runtime.
type Identity struct {
	AuthorityID string `json:"authority_id"` // Organisational authority that issued the credential
	IdentityID  string `json:"identity_id"`  // Unique identity string within that authority
}

// IdentityAccessor exposes the caller of the current invocation.
type IdentityAccessor interface {
	GetAuthorityID() (string, error)
	GetIdentityID() (string, error)
}

// CallerIdentity extracts the caller's authority and identity from the invocation context.
func CallerIdentity(acc IdentityAccessor) (Identity, error) {
	authorityID, err := acc.GetAuthorityID()
	if err != nil {
		return Identity{}, fatal("read caller authority", err)
	}
	identityID, err := acc.GetIdentityID()
	if err != nil {
		return Identity{}, fatal("read caller identity", err)
	}
	caller := Identity{AuthorityID: authorityID, IdentityID: identityID}
	if err := caller.Validate(); err != nil {
		return Identity{}, err
	}
	return caller, nil
}

// Validate reports whether both parts of the identity are present.
func (id Identity) Validate() error {
	if id.AuthorityID == "" || id.IdentityID == "" {
		return fmt.Errorf("%w: caller identity requires authority_id and identity_id", ErrInvalidArgument)
	}
	return nil
}

func (id Identity) String() string {
	return id.AuthorityID + "/" + id.IdentityID
}
