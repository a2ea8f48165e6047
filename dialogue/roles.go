package dialogue

import "strings"

// RoleMap records which speaker labels fill the two roles of a session. Subject is the
// primary non-interviewer label.
type RoleMap struct {
	Interviewer string
	Subject     string
	// Ambiguous is set when the Subject could not be picked cleanly: a frequency tie
	// or more than one non-interviewer label.
	Ambiguous bool
}

func (r RoleMap) IsInterviewer(speaker string) bool {
	return isInterviewerLabel(speaker)
}

func isInterviewerLabel(speaker string) bool {
	return strings.EqualFold(strings.TrimSpace(speaker), SpeakerInterviewer)
}

// IsSubject reports whether a turn takes the Subject path. Every label other than
// "Interviewer" does, including extra labels that lost to r.Subject.
func (r RoleMap) IsSubject(speaker string) bool {
	return !isInterviewerLabel(speaker)
}

// ResolveRoles picks the Subject as the most frequent speaker label that is not "Interviewer"
// (case-insensitive). Ties go to the label seen first.
func ResolveRoles(turns []Turn) RoleMap {
	rm := RoleMap{Interviewer: SpeakerInterviewer}

	counts := map[string]int{}
	var order []string
	for _, t := range turns {
		sp := strings.TrimSpace(t.Speaker)
		if sp == "" || strings.EqualFold(sp, SpeakerInterviewer) {
			continue
		}
		if _, ok := counts[sp]; !ok {
			order = append(order, sp)
		}
		counts[sp]++
	}
	if len(order) == 0 {
		return rm
	}

	best := order[0]
	tied := false
	for _, sp := range order[1:] {
		switch {
		case counts[sp] > counts[best]:
			best = sp
			tied = false
		case counts[sp] == counts[best]:
			tied = true
		}
	}

	rm.Subject = best
	rm.Ambiguous = tied || len(order) > 1
	return rm
}
