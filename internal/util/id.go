package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a 21-char URL-safe identifier for documents, chunks and jobs.
func NewID() string {
	return gonanoid.MustGenerate(idAlphabet, 21)
}
