package rbac

import "testing"

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in    string
		level Level
		ok    bool
	}{
		{"read", LevelRead, true},
		{"write", LevelWrite, true},
		{"admin", LevelAdmin, true},
		{" Admin ", LevelAdmin, true},
		{"", Level(-1), false},
		{"owner", Level(-1), false},
		{"superadmin", Level(-1), false},
	}
	for _, tc := range cases {
		level, ok := ParseLevel(tc.in)
		if ok != tc.ok || level != tc.level {
			t.Fatalf("ParseLevel(%q)=(%v,%v), want (%v,%v)", tc.in, level, ok, tc.level, tc.ok)
		}
	}
}

func TestLevelMeets(t *testing.T) {
	if !LevelAdmin.Meets(LevelRead) || !LevelAdmin.Meets(LevelWrite) || !LevelAdmin.Meets(LevelAdmin) {
		t.Fatal("admin should satisfy every level")
	}
	if !LevelWrite.Meets(LevelRead) || !LevelWrite.Meets(LevelWrite) {
		t.Fatal("write should satisfy read and write")
	}
	if LevelWrite.Meets(LevelAdmin) {
		t.Fatal("write must not satisfy admin")
	}
	if LevelRead.Meets(LevelWrite) {
		t.Fatal("read must not satisfy write")
	}
}
