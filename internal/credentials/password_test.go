package credentials

import "testing"

func TestBcryptHasherHashAndVerify(t *testing.T) {
	h := BcryptHasher{Cost: 4} // cheapest valid cost, keep the test fast
	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify(hash, "correct-horse") {
		t.Errorf("Verify: want true for the original password")
	}
	if h.Verify(hash, "wrong-password") {
		t.Errorf("Verify: want false for a wrong password")
	}
}

func TestBcryptHasherDefaultCost(t *testing.T) {
	h := BcryptHasher{}
	if h.cost() != DefaultBcryptCost {
		t.Errorf("cost() = %d, want %d", h.cost(), DefaultBcryptCost)
	}
}

func TestComplexityValidate(t *testing.T) {
	tests := []struct {
		name     string
		level    complexityLevel
		password string
		wantErr  bool
	}{
		{"none accepts anything", LevelNone, "x", false},
		{"low rejects short", LevelLow, "short", true},
		{"low accepts length only", LevelLow, "longenough", false},
		{"fair requires mixed case and digit", LevelFair, "alllowercase1", true},
		{"fair accepts mixed case and digit", LevelFair, "Abcdefg1", false},
		{"good requires special char", LevelGood, "Abcdefg1", true},
		{"good accepts special char", LevelGood, "Abcdefg1!", false},
		{"excellent rejects repeated char", LevelExcellent, "Abbcdefg1!", true},
		{"excellent accepts no repeats", LevelExcellent, "Abcdefg1!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Complexity{Level: tt.level}
			err := c.Validate(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) err = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}
