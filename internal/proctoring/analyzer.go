// Package proctoring correlates exam sessions to find suspicious patterns such as shared
// IP addresses or browser fingerprints across participants.
package proctoring

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Reason names the criterion that flagged a session.
type Reason string

const (
	DifferentStudentExamsSameIPAddress          Reason = "DIFFERENT_STUDENT_EXAMS_SAME_IP_ADDRESS"
	DifferentStudentExamsSameBrowserFingerprint Reason = "DIFFERENT_STUDENT_EXAMS_SAME_BROWSER_FINGERPRINT"
	SameStudentExamDifferentIPAddresses         Reason = "SAME_STUDENT_EXAM_DIFFERENT_IP_ADDRESSES"
	SameStudentExamDifferentBrowserFingerprints Reason = "SAME_STUDENT_EXAM_DIFFERENT_BROWSER_FINGERPRINTS"
	IPAddressOutsideOfRange                     Reason = "IP_ADDRESS_OUTSIDE_OF_RANGE"
)

// reasonOrder fixes the order reasons are reported in.
var reasonOrder = []Reason{
	DifferentStudentExamsSameIPAddress,
	DifferentStudentExamsSameBrowserFingerprint,
	SameStudentExamDifferentIPAddresses,
	SameStudentExamDifferentBrowserFingerprints,
	IPAddressOutsideOfRange,
}

// Options toggles the criteria. IPSubnet is required with IPOutsideOfRange.
type Options struct {
	DifferentStudentExamsSameIPAddress          bool
	DifferentStudentExamsSameBrowserFingerprint bool
	SameStudentExamDifferentIPAddresses         bool
	SameStudentExamDifferentBrowserFingerprints bool
	IPOutsideOfRange                            bool
	IPSubnet                                    string
}

// OptionsFromRequest converts bound query parameters.
func OptionsFromRequest(req model.SuspiciousSessionsRequest) Options {
	return Options{
		DifferentStudentExamsSameIPAddress:          req.DifferentStudentExamsSameIPAddress,
		DifferentStudentExamsSameBrowserFingerprint: req.DifferentStudentExamsSameBrowserFingerprint,
		SameStudentExamDifferentIPAddresses:         req.SameStudentExamDifferentIPAddresses,
		SameStudentExamDifferentBrowserFingerprints: req.SameStudentExamDifferentBrowserFingerprints,
		IPOutsideOfRange:                            req.IPOutsideOfRange,
		IPSubnet:                                    req.IPSubnet,
	}
}

// FlaggedSession is a session with every reason that fired for it.
type FlaggedSession struct {
	model.ExamSession
	Reasons []Reason `json:"suspicious_reasons"`
}

// SuspiciousSessionGroup is a set of sessions flagged together.
type SuspiciousSessionGroup struct {
	Sessions []FlaggedSession `json:"exam_sessions"`
}

// FindSuspiciousSessions runs the enabled criteria over a snapshot of sessions.
// Groups with identical membership are reported once; overlapping groups are kept apart.
func FindSuspiciousSessions(sessions []model.ExamSession, opts Options) ([]SuspiciousSessionGroup, error) {
	var subnet netip.Prefix
	if opts.IPOutsideOfRange {
		if strings.TrimSpace(opts.IPSubnet) == "" {
			return nil, apperror.InvalidArgument("ipSubnet is required when checking for addresses outside of range")
		}
		p, err := netip.ParsePrefix(strings.TrimSpace(opts.IPSubnet))
		if err != nil {
			return nil, apperror.InvalidArgument("ipSubnet %q is not a CIDR prefix", opts.IPSubnet)
		}
		subnet = p.Masked()
	}

	c := newCollector(sessions)

	if opts.DifferentStudentExamsSameIPAddress {
		c.acrossStudentExams(DifferentStudentExamsSameIPAddress, func(s *model.ExamSession) string { return s.IPAddress })
	}
	if opts.DifferentStudentExamsSameBrowserFingerprint {
		c.acrossStudentExams(DifferentStudentExamsSameBrowserFingerprint, func(s *model.ExamSession) string { return s.BrowserFingerprintHash })
	}
	if opts.SameStudentExamDifferentIPAddresses {
		c.withinStudentExam(SameStudentExamDifferentIPAddresses, func(s *model.ExamSession) string { return s.IPAddress })
	}
	if opts.SameStudentExamDifferentBrowserFingerprints {
		c.withinStudentExam(SameStudentExamDifferentBrowserFingerprints, func(s *model.ExamSession) string { return s.BrowserFingerprintHash })
	}
	if opts.IPOutsideOfRange {
		c.outsideOf(subnet)
	}

	return c.result(), nil
}

// collector accumulates groups as sets of session indexes and the reasons per session.
type collector struct {
	sessions []model.ExamSession
	reasons  []map[Reason]struct{}
	groups   [][]int
	seen     map[string]struct{}
}

func newCollector(sessions []model.ExamSession) *collector {
	return &collector{
		sessions: sessions,
		reasons:  make([]map[Reason]struct{}, len(sessions)),
		seen:     make(map[string]struct{}),
	}
}

// acrossStudentExams groups sessions that share a value when they span at least two student exams.
func (c *collector) acrossStudentExams(reason Reason, key func(*model.ExamSession) string) {
	index := make(map[string][]int)
	var order []string
	for i := range c.sessions {
		k := normalize(key(&c.sessions[i]))
		if k == "" {
			continue
		}
		if _, ok := index[k]; !ok {
			order = append(order, k)
		}
		index[k] = append(index[k], i)
	}

	for _, k := range order {
		members := index[k]
		owners := make(map[uuid.UUID]struct{})
		for _, i := range members {
			owners[c.sessions[i].StudentExamID] = struct{}{}
		}
		if len(owners) >= 2 {
			c.add(reason, members)
		}
	}
}

// withinStudentExam groups a student exam's sessions when they carry at least two distinct values.
func (c *collector) withinStudentExam(reason Reason, key func(*model.ExamSession) string) {
	index := make(map[uuid.UUID][]int)
	var order []uuid.UUID
	for i := range c.sessions {
		id := c.sessions[i].StudentExamID
		if _, ok := index[id]; !ok {
			order = append(order, id)
		}
		index[id] = append(index[id], i)
	}

	for _, id := range order {
		members := index[id]
		values := make(map[string]struct{})
		for _, i := range members {
			if k := normalize(key(&c.sessions[i])); k != "" {
				values[k] = struct{}{}
			}
		}
		if len(values) >= 2 {
			c.add(reason, members)
		}
	}
}

// outsideOf flags every session of the subnet's address family that is not inside it.
// Sessions of the other family or with unparsable addresses are not evaluated.
func (c *collector) outsideOf(subnet netip.Prefix) {
	for i := range c.sessions {
		addr, ok := parseAddr(c.sessions[i].IPAddress)
		if !ok || addr.Is4() != subnet.Addr().Is4() {
			continue
		}
		if !subnet.Contains(addr) {
			c.add(IPAddressOutsideOfRange, []int{i})
		}
	}
}

func (c *collector) add(reason Reason, members []int) {
	for _, i := range members {
		if c.reasons[i] == nil {
			c.reasons[i] = make(map[Reason]struct{})
		}
		c.reasons[i][reason] = struct{}{}
	}

	set := slices.Clone(members)
	slices.Sort(set)
	set = slices.Compact(set)
	key := membershipKey(set)
	if _, dup := c.seen[key]; dup {
		return
	}
	c.seen[key] = struct{}{}
	c.groups = append(c.groups, set)
}

func (c *collector) result() []SuspiciousSessionGroup {
	out := make([]SuspiciousSessionGroup, 0, len(c.groups))
	for _, set := range c.groups {
		g := SuspiciousSessionGroup{Sessions: make([]FlaggedSession, 0, len(set))}
		for _, i := range set {
			g.Sessions = append(g.Sessions, FlaggedSession{ExamSession: c.sessions[i], Reasons: c.reasonsOf(i)})
		}
		out = append(out, g)
	}
	return out
}

func (c *collector) reasonsOf(i int) []Reason {
	out := make([]Reason, 0, len(c.reasons[i]))
	for _, r := range reasonOrder {
		if _, ok := c.reasons[i][r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func membershipKey(set []int) string {
	var b strings.Builder
	for _, i := range set {
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(',')
	}
	return b.String()
}

// normalize canonicalizes IP literals so "::ffff:10.0.0.1" and "10.0.0.1" compare equal.
// Other values are only trimmed.
func normalize(v string) string {
	v = strings.TrimSpace(v)
	if addr, ok := parseAddr(v); ok {
		return addr.String()
	}
	return v
}

func parseAddr(v string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(v))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
