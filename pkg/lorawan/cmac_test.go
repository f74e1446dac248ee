package lorawan

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 4493 test vectors
func TestAESCMACVectors(t *testing.T) {
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	msg, _ := hex.DecodeString(
		"6bc1bee22e409f96e93d7e117393172a" +
			"ae2d8a571e03ac9c9eb76fac45af8e51" +
			"30c81c46a35ce411e5fbc1191a0a52ef" +
			"f69f2445df4f9b17ad2b417be66c3710")

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "bb1d6929e95937287fa37d129b756746"},
		{"one block", msg[:16], "070a16b46b4d4144f79bdd9dd04a287c"},
		{"partial last block", msg[:40], "dfa66747de9ae63030ca32611497c827"},
		{"four blocks", msg, "51f0bebf7e3b9d92fc49741779363cfe"},
	}

	for _, tc := range cases {
		got, err := aesCMAC(key, tc.data)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		want, _ := hex.DecodeString(tc.want)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: got %x, want %s", tc.name, got, tc.want)
		}
	}
}
