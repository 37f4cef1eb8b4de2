// Package users implements the credential store described in spec.md §4.9:
// a flat qpack file of (name, bcrypt hash, access_bit) records, default-user
// bootstrap, and constant-time authentication. Grounded on
// original_source/src/siri/db/users.c (siridb_users_load,
// siridb_users_add_user, siridb_users_get_user, USERS_cmp, name length and
// graphical-character validation).
package users

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/qpack"
)

const (
	usersFileName  = "users.dat"
	usersSchema    = 1
	minNameLen     = 2
	maxNameLen     = 60
	defaultProfile = AccessFull
)

// AccessBit enumerates coarse access profiles. Full query/grammar-level
// permission scoping is out of scope (spec.md §1); this stays a bare
// bitmask the query layer interprets.
type AccessBit uint32

const (
	AccessRead  AccessBit = 1 << 0
	AccessWrite AccessBit = 1 << 1
	AccessFull  AccessBit = AccessRead | AccessWrite
)

// User is one credential record.
type User struct {
	Name      string
	hash      []byte
	AccessBit AccessBit
}

// Store owns users.dat for one database.
type Store struct {
	mu    sync.Mutex
	path  string
	errf  *engineerr.Flag
	users map[string]*User
}

// Load implements siridb_users_load: if users.dat is absent, bootstrap the
// default iris/siri user with full access; otherwise read and schema-check
// the file.
func Load(dataDir string, errf *engineerr.Flag) (*Store, error) {
	st := &Store{path: filepath.Join(dataDir, usersFileName), errf: errf, users: make(map[string]*User)}

	raw, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			errf.Set(engineerr.File)
			return nil, fmt.Errorf("users: read users.dat: %w", err)
		}
		if _, err := st.addUserLocked("iris", "siri", defaultProfile); err != nil {
			return nil, err
		}
		return st, nil
	}

	u := qpack.NewUnpacker(raw)
	schema, err := qpack.ReadSchemaHeader(u)
	if err != nil {
		errf.Set(engineerr.File)
		return nil, fmt.Errorf("users: read schema: %w", err)
	}
	if schema != usersSchema {
		return nil, qpack.ErrUnknownSchema
	}
	for {
		var v qpack.Value
		tag, err := u.Next(&v)
		if err != nil {
			errf.Set(engineerr.File)
			return nil, fmt.Errorf("users: decode users.dat: %w", err)
		}
		if tag == qpack.TagEnd {
			break
		}
		if tag != qpack.TagArray3 {
			return nil, fmt.Errorf("users: unexpected record tag 0x%02x", byte(tag))
		}
		if _, err := u.Next(&v); err != nil {
			return nil, err
		}
		name := trimNUL(v.Raw)
		if _, err := u.Next(&v); err != nil {
			return nil, err
		}
		hash := append([]byte(nil), v.Raw...)
		if _, err := u.Next(&v); err != nil {
			return nil, err
		}
		st.users[name] = &User{Name: name, hash: hash, AccessBit: AccessBit(uint32(v.Int))}
	}
	return st, nil
}

// validateName enforces length-[2,60] and graphical-only characters
// (siridb_users_add_user).
func validateName(name string) error {
	if len(name) < minNameLen {
		return fmt.Errorf("user name should be at least %d characters", minNameLen)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("user name should be at most %d characters", maxNameLen)
	}
	for _, r := range name {
		if !unicode.IsGraphic(r) || unicode.IsSpace(r) {
			return fmt.Errorf("user name contains illegal characters (only graphical characters are allowed, no spaces, tabs etc.)")
		}
	}
	return nil
}

// AddUser validates, hashes, stores and persists a new user
// (siridb_users_add_user).
func (st *Store) AddUser(name, password string, access AccessBit) (*User, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.addUserLocked(name, password, access)
}

func (st *Store) addUserLocked(name, password string, access AccessBit) (*User, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, exists := st.users[name]; exists {
		return nil, fmt.Errorf("user name %q already exists", name)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		st.errf.Set(engineerr.Alloc)
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	u := &User{Name: name, hash: hash, AccessBit: access}
	st.users[name] = u
	if err := st.saveLocked(); err != nil {
		delete(st.users, name)
		return nil, fmt.Errorf("could not save user %q to file: %w", name, err)
	}
	return u, nil
}

// DropUser removes a user and persists the change (siridb_users_drop_user).
func (st *Store) DropUser(name string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.users[name]; !ok {
		return fmt.Errorf("user %q does not exist", name)
	}
	delete(st.users, name)
	return st.saveLocked()
}

// Authenticate fetches by name, and if password is non-empty compares it
// against the stored hash in constant time (siridb_users_get_user). Returns
// (user, true) on success, (nil, false) on any mismatch or missing user.
func (st *Store) Authenticate(name, password string) (*User, bool) {
	st.mu.Lock()
	u, ok := st.users[name]
	st.mu.Unlock()
	if !ok {
		return nil, false
	}
	if password == "" {
		return u, true
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, false
	}
	return u, true
}

// constantTimeEqual is exposed for callers comparing raw derived secrets
// outside of bcrypt's own comparison (e.g. session tokens); bcrypt.
// CompareHashAndPassword is already constant-time, this is a small helper
// for anything else that needs the same property.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func trimNUL(raw []byte) string {
	if n := len(raw); n > 0 && raw[n-1] == 0 {
		raw = raw[:n-1]
	}
	return string(raw)
}

func (st *Store) saveLocked() error {
	fp, err := qpack.OpenFilePacker(st.path)
	if err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	if err := fp.AddArrayOpen(); err != nil {
		return err
	}
	if err := fp.AddInt16(usersSchema); err != nil {
		return err
	}
	var werr error
	for _, u := range st.users {
		if err := fp.AddArray(3); err != nil {
			werr = err
			break
		}
		if err := fp.AddStringTerm(u.Name); err != nil {
			werr = err
			break
		}
		if err := fp.AddRaw(u.hash); err != nil {
			werr = err
			break
		}
		if err := fp.AddInt32(int32(u.AccessBit)); err != nil {
			werr = err
			break
		}
	}
	if werr != nil {
		fp.Close()
		st.errf.Set(engineerr.File)
		return werr
	}
	if err := fp.AddEnd(); err != nil {
		return err
	}
	if err := fp.Close(); err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	return nil
}

// RawBytes returns the raw users.dat file contents, the single operation a
// joining replica uses to bootstrap its own user store (spec.md §4.9
// "Exposing the raw file to a joining replica").
func (st *Store) RawBytes() ([]byte, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	raw, err := os.ReadFile(st.path)
	if err != nil {
		st.errf.Set(engineerr.File)
		return nil, err
	}
	return raw, nil
}
