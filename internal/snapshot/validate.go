package snapshot

import "fmt"

// Warning records one malformed snapshot item that was skipped during
// validation. Skipped items are treated as not observed; the rest of the
// pass proceeds.
type Warning struct {
	Kind   string
	Key    string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %q skipped: %s", w.Kind, w.Key, w.Reason)
}

// Validate returns a copy of snap with malformed and duplicate items
// removed, plus one warning per skipped item. An item is malformed when a
// required identifier or display field is missing; the first occurrence
// wins when an identifier appears twice in the same snapshot.
func Validate(snap *Snapshot) (*Snapshot, []Warning) {
	out := &Snapshot{Scope: snap.Scope, FetchedAt: snap.FetchedAt}
	var warnings []Warning

	seenCourses := make(map[string]bool, len(snap.Courses))
	for _, c := range snap.Courses {
		switch {
		case c.ExternalID == "":
			warnings = append(warnings, Warning{Kind: "course", Key: c.Name, Reason: "missing id"})
		case c.Name == "":
			warnings = append(warnings, Warning{Kind: "course", Key: c.ExternalID, Reason: "missing name"})
		case seenCourses[c.ExternalID]:
			warnings = append(warnings, Warning{Kind: "course", Key: c.ExternalID, Reason: "duplicate id"})
		default:
			seenCourses[c.ExternalID] = true
			out.Courses = append(out.Courses, c)
		}
	}

	seenStudents := make(map[string]bool, len(snap.Students))
	for _, s := range snap.Students {
		switch {
		case s.ExternalID == "":
			warnings = append(warnings, Warning{Kind: "student", Key: s.FullName, Reason: "missing id"})
		case s.FullName == "":
			warnings = append(warnings, Warning{Kind: "student", Key: s.ExternalID, Reason: "missing name"})
		case seenStudents[s.ExternalID]:
			warnings = append(warnings, Warning{Kind: "student", Key: s.ExternalID, Reason: "duplicate id"})
		default:
			seenStudents[s.ExternalID] = true
			out.Students = append(out.Students, s)
		}
	}

	seenAssignments := make(map[string]bool, len(snap.Assignments))
	for _, a := range snap.Assignments {
		switch {
		case a.ExternalID == "":
			warnings = append(warnings, Warning{Kind: "assignment", Key: a.Title, Reason: "missing id"})
		case a.CourseID == "":
			warnings = append(warnings, Warning{Kind: "assignment", Key: a.ExternalID, Reason: "missing course id"})
		case a.Title == "":
			warnings = append(warnings, Warning{Kind: "assignment", Key: a.ExternalID, Reason: "missing title"})
		case seenAssignments[a.ExternalID]:
			warnings = append(warnings, Warning{Kind: "assignment", Key: a.ExternalID, Reason: "duplicate id"})
		default:
			seenAssignments[a.ExternalID] = true
			out.Assignments = append(out.Assignments, a)
		}
	}

	seenEnrollments := make(map[string]bool, len(snap.Enrollments))
	for _, e := range snap.Enrollments {
		key := e.StudentID + "/" + e.CourseID
		switch {
		case e.StudentID == "" || e.CourseID == "":
			warnings = append(warnings, Warning{Kind: "enrollment", Key: key, Reason: "missing student or course id"})
		case seenEnrollments[key]:
			warnings = append(warnings, Warning{Kind: "enrollment", Key: key, Reason: "duplicate"})
		default:
			seenEnrollments[key] = true
			out.Enrollments = append(out.Enrollments, e)
		}
	}

	return out, warnings
}
