package validation

import "testing"

type sessionRequest struct {
	DevAddr string `validate:"required,hex=4"`
	NwkSKey string `validate:"required,hex=16"`
	Name    string `validate:"max=64"`
	Email   string `validate:"email"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	ok := sessionRequest{
		DevAddr: "26011BDA",
		NwkSKey: "000102030405060708090A0B0C0D0E0F",
		Name:    "bench sensor",
		Email:   "ops@example.com",
	}
	if err := v.Validate(&ok); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	missing := ok
	missing.DevAddr = ""
	if err := v.Validate(&missing); err == nil {
		t.Fatal("missing required field accepted")
	}

	badHex := ok
	badHex.NwkSKey = "zz0102030405060708090A0B0C0D0E0F"
	if err := v.Validate(&badHex); err == nil {
		t.Fatal("non-hex key accepted")
	}

	shortKey := ok
	shortKey.NwkSKey = "0001"
	if err := v.Validate(&shortKey); err == nil {
		t.Fatal("short key accepted")
	}

	badEmail := ok
	badEmail.Email = "nope"
	if err := v.Validate(&badEmail); err == nil {
		t.Fatal("bad email accepted")
	}
}
