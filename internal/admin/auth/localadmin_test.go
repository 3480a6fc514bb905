package auth

import "testing"

func TestLocalAdminAuthenticate(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	admin := LocalAdmin{Username: "root", PasswordHash: hash}

	if err := admin.Authenticate("root", "correct horse battery staple"); err != nil {
		t.Errorf("Authenticate() with correct credentials error = %v", err)
	}
	if err := admin.Authenticate("root", "wrong"); err == nil {
		t.Error("expected an error for a wrong password")
	}
	if err := admin.Authenticate("someone-else", "correct horse battery staple"); err == nil {
		t.Error("expected an error for a wrong username")
	}
}
