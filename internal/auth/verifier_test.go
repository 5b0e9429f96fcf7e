package auth

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestVerifier_HashAndVerify(t *testing.T) {
	v := NewVerifier()

	hash, err := v.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2_sha512$") {
		t.Errorf("unexpected hash encoding: %s", hash)
	}

	ok, err := v.Verify("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("expected match for the original password")
	}

	ok, err = v.Verify("wrong password", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("expected mismatch for a different password")
	}
}

func TestVerifier_HashesAreSalted(t *testing.T) {
	v := NewVerifier()

	first, err := v.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := v.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password must differ")
	}
}

func TestVerifier_RoundTripProperty(t *testing.T) {
	v := &Verifier{iterations: 1000} // low count keeps the property check fast

	rapid.Check(t, func(t *rapid.T) {
		password := rapid.String().Draw(t, "password")

		hash, err := v.Hash(password)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		ok, err := v.Verify(password, hash)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !ok {
			t.Fatalf("round trip failed for %q", password)
		}

		mutated := password + "x"
		ok, err = v.Verify(mutated, hash)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if ok {
			t.Fatalf("mutated password %q must not verify", mutated)
		}
	})
}

func TestVerifier_MalformedHash(t *testing.T) {
	v := NewVerifier()

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"wrong prefix", "bcrypt$10$c2FsdA$ZGlnZXN0"},
		{"missing parts", "pbkdf2_sha512$210000$c2FsdA"},
		{"bad iterations", "pbkdf2_sha512$zero$c2FsdA$ZGlnZXN0"},
		{"bad salt encoding", "pbkdf2_sha512$210000$!!!$ZGlnZXN0"},
		{"bad digest encoding", "pbkdf2_sha512$210000$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify("anything", tt.encoded)
			if err == nil {
				t.Error("expected an error for a malformed hash")
			}
		})
	}
}
