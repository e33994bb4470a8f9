package uuid

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"
)

// Alphanumeric ids contain no '-' or '_' so they can be used as path params and channel suffixes verbatim
const Alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generator produces unique record ids
type Generator interface {
	Generate() (string, error)
}

// NanoIDGenerator Generator backed by nanoid
type NanoIDGenerator struct {
	Length   int
	Alphabet string
}

var _ Generator = &NanoIDGenerator{}

// NewNanoIDGenerator alphanumeric nanoid of the given length
func NewNanoIDGenerator(length int) *NanoIDGenerator {
	if length < 1 {
		panic("length must be larger than 1")
	}
	return &NanoIDGenerator{Length: length, Alphabet: Alphanumeric}
}

func (ns *NanoIDGenerator) Generate() (string, error) {
	id, err := gonanoid.Generate(ns.Alphabet, ns.Length)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}
