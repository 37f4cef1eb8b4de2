package users

import (
	"testing"

	"github.com/siridb/siridbd/internal/engineerr"
)

func TestLoadBootstrapsDefaultUser(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, err := Load(dir, &errf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	u, ok := st.Authenticate("iris", "siri")
	if !ok {
		t.Fatalf("expected default iris/siri user to authenticate")
	}
	if u.AccessBit != AccessFull {
		t.Fatalf("default user access = %v, want AccessFull", u.AccessBit)
	}
}

func TestAddUserRejectsShortName(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, _ := Load(dir, &errf)
	if _, err := st.AddUser("a", "password", AccessRead); err == nil {
		t.Fatalf("expected error for name shorter than 2 characters")
	}
}

func TestAddUserRejectsNonGraphicalName(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, _ := Load(dir, &errf)
	if _, err := st.AddUser("bad name", "password", AccessRead); err == nil {
		t.Fatalf("expected error for name containing whitespace")
	}
}

func TestAddUserRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, _ := Load(dir, &errf)
	if _, err := st.AddUser("alice", "pw", AccessRead); err != nil {
		t.Fatalf("first AddUser: %v", err)
	}
	if _, err := st.AddUser("alice", "other", AccessRead); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, _ := Load(dir, &errf)
	if _, err := st.AddUser("bob", "correct", AccessRead); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, ok := st.Authenticate("bob", "wrong"); ok {
		t.Fatalf("expected authentication failure with wrong password")
	}
}

func TestUsersSurviveReload(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, err := Load(dir, &errf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := st.AddUser("carol", "secret", AccessFull); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	st2, err := Load(dir, &errf)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := st2.Authenticate("carol", "secret"); !ok {
		t.Fatalf("expected carol to survive reload")
	}
	if _, ok := st2.Authenticate("iris", "siri"); !ok {
		t.Fatalf("expected default iris user to survive reload")
	}
}

func TestDropUserRemovesAccess(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, _ := Load(dir, &errf)
	if _, err := st.AddUser("dave", "pw", AccessRead); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := st.DropUser("dave"); err != nil {
		t.Fatalf("DropUser: %v", err)
	}
	if _, ok := st.Authenticate("dave", "pw"); ok {
		t.Fatalf("expected dropped user to no longer authenticate")
	}
}

func TestRawBytesReturnsFileContent(t *testing.T) {
	dir := t.TempDir()
	var errf engineerr.Flag
	st, err := Load(dir, &errf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw, err := st.RawBytes()
	if err != nil {
		t.Fatalf("RawBytes: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty users.dat after bootstrap")
	}
}
