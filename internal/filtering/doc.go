// Package filtering provides course filtering for snapshot data.
//
// A filter narrows which courses a sync pass observes. Courses are
// matched by glob patterns against the course code (falling back to the
// course name), with exclude taking precedence over include. Assignments
// and enrollments belonging to an excluded course are dropped along with
// it; students are never dropped by a course filter because they may be
// enrolled elsewhere.
//
// # Filtering Logic
//
//  1. If exclude patterns are specified and match -> exclude (precedence)
//  2. If include patterns are specified and match -> include
//  3. If include patterns are specified but no match -> exclude
//  4. If only exclude patterns specified and no match -> include
//  5. If no filters specified -> include (default behavior)
//
// # Usage Example
//
//	service := NewDefaultFilterService()
//	filter := &config.FilterConfig{
//		Courses: &config.NameFilterConfig{
//			Include: []string{"BIO-*", "CHEM-*"},
//			Exclude: []string{"*-archived"},
//		},
//	}
//
//	filteredSnapshot, err := service.ApplyFilters(ctx, snap, filter)
//
// Filtering logs each exclusion with the pattern that caused it, which
// makes misconfigured filters easy to spot in the sync logs.
package filtering
