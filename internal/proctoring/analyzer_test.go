package proctoring

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

const fingerprint = "5b2cc274f6eaf3a71647e1f85358ce32"

func session(t *testing.T, studentExam uuid.UUID, ip, fp string) model.ExamSession {
	t.Helper()
	return model.ExamSession{
		ID:                     uuid.New(),
		StudentExamID:          studentExam,
		IPAddress:              ip,
		BrowserFingerprintHash: fp,
	}
}

func TestFindSuspiciousSessions_SharedIPAndFingerprint(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sessions := []model.ExamSession{
		session(t, a, "192.0.2.235", fingerprint),
		session(t, b, "192.0.2.235", fingerprint),
		session(t, c, "198.51.100.7", "0a1b2c3d"),
	}

	groups, err := FindSuspiciousSessions(sessions, Options{
		DifferentStudentExamsSameIPAddress:          true,
		DifferentStudentExamsSameBrowserFingerprint: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(groups[0].Sessions))
	}
	want := []Reason{DifferentStudentExamsSameIPAddress, DifferentStudentExamsSameBrowserFingerprint}
	for _, s := range groups[0].Sessions {
		if s.StudentExamID == c {
			t.Error("unrelated session was grouped")
		}
		if !slices.Equal(s.Reasons, want) {
			t.Errorf("reasons = %v, want %v", s.Reasons, want)
		}
	}
}

func TestFindSuspiciousSessions_SameStudentExamReconnects(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	sessions := []model.ExamSession{
		session(t, a, "10.0.0.1", "fp-a"),
		session(t, a, "10.0.0.1", "fp-a"),
		session(t, b, "10.0.0.2", "fp-b"),
		session(t, b, "10.0.0.3", "fp-b"),
	}

	tests := []struct {
		name       string
		opts       Options
		wantGroups int
	}{
		{"shared ip within one student exam is fine", Options{DifferentStudentExamsSameIPAddress: true}, 0},
		{"changing ip is flagged", Options{SameStudentExamDifferentIPAddresses: true}, 1},
		{"stable fingerprint is fine", Options{SameStudentExamDifferentBrowserFingerprints: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := FindSuspiciousSessions(sessions, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(groups) != tt.wantGroups {
				t.Errorf("got %d groups, want %d", len(groups), tt.wantGroups)
			}
		})
	}
}

func TestFindSuspiciousSessions_SubnetFamilies(t *testing.T) {
	inside := session(t, uuid.New(), "192.168.1.10", "")
	v6 := session(t, uuid.New(), "2001:db8::1", "")
	outside := session(t, uuid.New(), "192.168.1.200", "")
	sessions := []model.ExamSession{inside, v6, outside}

	groups, err := FindSuspiciousSessions(sessions, Options{IPOutsideOfRange: true, IPSubnet: "192.168.1.0/28"})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Sessions[0].ID != outside.ID {
		t.Fatalf("groups = %+v, want only the out-of-range IPv4 session", groups)
	}
	if !slices.Equal(groups[0].Sessions[0].Reasons, []Reason{IPAddressOutsideOfRange}) {
		t.Errorf("reasons = %v", groups[0].Sessions[0].Reasons)
	}

	t.Run("ipv6 subnet ignores ipv4 sessions", func(t *testing.T) {
		groups, err := FindSuspiciousSessions(sessions, Options{IPOutsideOfRange: true, IPSubnet: "2001:db8::/32"})
		if err != nil {
			t.Fatal(err)
		}
		if len(groups) != 0 {
			t.Errorf("got %d groups, want 0", len(groups))
		}
	})

	t.Run("ipv4-mapped ipv6 is treated as ipv4", func(t *testing.T) {
		mapped := session(t, uuid.New(), "::ffff:192.168.1.5", "")
		groups, err := FindSuspiciousSessions([]model.ExamSession{mapped}, Options{IPOutsideOfRange: true, IPSubnet: "192.168.1.0/28"})
		if err != nil {
			t.Fatal(err)
		}
		if len(groups) != 0 {
			t.Errorf("got %d groups, want 0", len(groups))
		}
	})
}

func TestFindSuspiciousSessions_InvalidSubnet(t *testing.T) {
	sessions := []model.ExamSession{session(t, uuid.New(), "10.0.0.1", "")}

	for _, subnet := range []string{"", "  ", "not-a-cidr", "10.0.0.1"} {
		_, err := FindSuspiciousSessions(sessions, Options{IPOutsideOfRange: true, IPSubnet: subnet})
		if !errors.Is(err, apperror.ErrInvalidArgument) {
			t.Errorf("subnet %q: err = %v, want ErrInvalidArgument", subnet, err)
		}
	}
}

func TestFindSuspiciousSessions_OverlappingGroupsStaySeparate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s1 := session(t, a, "10.0.0.1", "fp-1")
	s2 := session(t, b, "10.0.0.1", "fp-2")
	s3 := session(t, a, "10.0.0.9", "fp-2")
	sessions := []model.ExamSession{s1, s2, s3}

	groups, err := FindSuspiciousSessions(sessions, Options{
		DifferentStudentExamsSameIPAddress:          true,
		DifferentStudentExamsSameBrowserFingerprint: true,
		SameStudentExamDifferentIPAddresses:         true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// {s1,s2} by ip, {s2,s3} by fingerprint, {s1,s3} by changing ip
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	for _, g := range groups {
		for _, s := range g.Sessions {
			if s.ID == s2.ID && len(s.Reasons) != 2 {
				t.Errorf("s2 reasons = %v, want two", s.Reasons)
			}
		}
	}
}

func TestFindSuspiciousSessions_IdenticalMembershipCollapses(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	sessions := []model.ExamSession{
		session(t, a, "10.0.0.1", fingerprint),
		session(t, b, "10.0.0.1", fingerprint),
	}
	groups, err := FindSuspiciousSessions(sessions, Options{
		DifferentStudentExamsSameIPAddress:          true,
		DifferentStudentExamsSameBrowserFingerprint: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Errorf("got %d groups, want 1", len(groups))
	}
}

func TestFindSuspiciousSessions_Empty(t *testing.T) {
	groups, err := FindSuspiciousSessions(nil, Options{DifferentStudentExamsSameIPAddress: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups", len(groups))
	}
}

func TestFindSuspiciousSessions_EmptyValuesIgnored(t *testing.T) {
	sessions := []model.ExamSession{
		session(t, uuid.New(), "", ""),
		session(t, uuid.New(), "", ""),
	}
	groups, err := FindSuspiciousSessions(sessions, Options{
		DifferentStudentExamsSameIPAddress:          true,
		DifferentStudentExamsSameBrowserFingerprint: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}
}
