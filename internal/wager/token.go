package wager

import "crypto/rand"

// Token alphabet without 0/O/1/I so winners can transcribe it by hand.
const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const tokenLength = 9

// NewWinnerToken mints a claim token of the form "T" plus nine characters
// from the unambiguous alphabet. The alphabet length divides 256, so the
// modulo introduces no bias.
func NewWinnerToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, tokenLength+1)
	out = append(out, 'T')
	for _, b := range buf {
		out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
	}
	return string(out), nil
}
