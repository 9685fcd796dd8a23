package rules

import (
	"errors"
	"net/netip"
	"testing"
)

func TestParseSubnet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  SubnetSpec
	}{
		{input: "10.0.0.0/24", want: SubnetSpec{Family: FamilyIPv4, Width: 24, Network: netip.MustParseAddr("10.0.0.0")}},
		{input: " !10.0.0.0/16 ", want: SubnetSpec{Family: FamilyIPv4, Width: 16, Exclude: true, Network: netip.MustParseAddr("10.0.0.0")}},
		{input: "10.0.0.7", want: SubnetSpec{Family: FamilyIPv4, Width: 32, Network: netip.MustParseAddr("10.0.0.7")}},
		{input: "0/0", want: SubnetSpec{}},
		{input: "fd00::/64", want: SubnetSpec{Family: FamilyIPv6, Width: 64, Network: netip.MustParseAddr("fd00::")}},
		{input: "10.1.2.3/8", want: SubnetSpec{Family: FamilyIPv4, Width: 8, Network: netip.MustParseAddr("10.1.2.3")}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSubnet(tc.input)
			if tc.want == (SubnetSpec{}) {
				if !errors.Is(err, ErrInvalidSubnet) {
					t.Fatalf("ParseSubnet(%q) error = %v, want ErrInvalidSubnet", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSubnet(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ParseSubnet(%q) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseSubnetsSkipsBlank(t *testing.T) {
	t.Parallel()

	got, err := ParseSubnets([]string{"10.0.0.0/8", " ", "", "!10.1.0.0/16"})
	if err != nil {
		t.Fatalf("ParseSubnets: %v", err)
	}
	if len(got) != 2 || !got[1].Exclude {
		t.Fatalf("ParseSubnets = %+v, want two entries ending in an exclude", got)
	}

	if _, err := ParseSubnets([]string{"10.0.0.0/8", "not-a-subnet"}); !errors.Is(err, ErrInvalidSubnet) {
		t.Fatalf("expected ErrInvalidSubnet, got %v", err)
	}
}

func TestParseNameservers(t *testing.T) {
	t.Parallel()

	got, err := ParseNameservers([]string{"10.0.0.53", "::ffff:1.1.1.1", "fd00::53"})
	if err != nil {
		t.Fatalf("ParseNameservers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("parsed %d nameservers, want 3", len(got))
	}
	if got[0].Family != FamilyIPv4 || got[1].Family != FamilyIPv4 || got[2].Family != FamilyIPv6 {
		t.Fatalf("families = %v %v %v", got[0].Family, got[1].Family, got[2].Family)
	}
	if got[1].String() != "1.1.1.1" {
		t.Fatalf("mapped address = %q, want 1.1.1.1", got[1].String())
	}

	if _, err := ParseNameserver("dns.example"); !errors.Is(err, ErrInvalidNameserver) {
		t.Fatalf("expected ErrInvalidNameserver, got %v", err)
	}
}

func TestParseFamily(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ipv4", "IPv4", "inet", "4"} {
		f, err := ParseFamily(raw)
		if err != nil || f != FamilyIPv4 {
			t.Fatalf("ParseFamily(%q) = %v, %v; want ipv4", raw, f, err)
		}
	}
	f, err := ParseFamily("inet6")
	if err != nil || f != FamilyIPv6 {
		t.Fatalf("ParseFamily(inet6) = %v, %v; want ipv6", f, err)
	}
	if f.String() != "ipv6" {
		t.Fatalf("String = %q, want ipv6", f.String())
	}

	if _, err := ParseFamily("appletalk"); err == nil {
		t.Fatal("ParseFamily(appletalk) succeeded, want error")
	}
}
