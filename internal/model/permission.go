package model

// Permission represents a string code for a specific staff action.
type Permission string

const (
	// PermissionExamsRead allows viewing exams and their student exams.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsManage allows rescheduling exams, adjusting working times
	// and (re)generating student exams or test runs.
	PermissionExamsManage Permission = "exams:manage"

	// PermissionExamsGrade allows computing exam scores.
	PermissionExamsGrade Permission = "exams:grade"

	// PermissionExamsProctor allows analyzing exam sessions.
	PermissionExamsProctor Permission = "exams:proctor"

	// PermissionGradingScalesWrite allows importing grading scales.
	PermissionGradingScalesWrite Permission = "grading_scales:write"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionExamsRead,
	PermissionExamsManage,
	PermissionExamsGrade,
	PermissionExamsProctor,
	PermissionGradingScalesWrite,
}
