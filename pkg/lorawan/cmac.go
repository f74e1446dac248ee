package lorawan

import (
	"crypto/aes"
	"crypto/cipher"
)

// aesCMAC implements AES-CMAC according to RFC 4493
func aesCMAC(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	k1, k2 := generateSubkeys(block)

	// Prepare the last block: XOR with K1 when complete, pad and
	// XOR with K2 otherwise.
	n := len(data)
	mLast := make([]byte, 16)
	fullBlocks := n / 16

	if n > 0 && n%16 == 0 {
		fullBlocks--
		copy(mLast, data[fullBlocks*16:])
		for i := 0; i < 16; i++ {
			mLast[i] ^= k1[i]
		}
	} else {
		copy(mLast, data[fullBlocks*16:])
		mLast[n%16] = 0x80
		for i := 0; i < 16; i++ {
			mLast[i] ^= k2[i]
		}
	}

	x := make([]byte, 16)
	y := make([]byte, 16)

	for i := 0; i < fullBlocks; i++ {
		for j := 0; j < 16; j++ {
			y[j] = x[j] ^ data[i*16+j]
		}
		block.Encrypt(x, y)
	}

	for j := 0; j < 16; j++ {
		y[j] = x[j] ^ mLast[j]
	}
	block.Encrypt(x, y)

	return x, nil
}

// generateSubkeys generates K1 and K2 for AES-CMAC
func generateSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87

	k0 := make([]byte, 16)
	block.Encrypt(k0, make([]byte, 16))

	k1 = leftShift(k0)
	if k0[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = leftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}

	return k1, k2
}

// leftShift performs a one-bit left shift on a byte slice
func leftShift(b []byte) []byte {
	result := make([]byte, len(b))
	overflow := byte(0)

	for i := len(b) - 1; i >= 0; i-- {
		result[i] = b[i]<<1 | overflow
		overflow = (b[i] & 0x80) >> 7
	}

	return result
}
