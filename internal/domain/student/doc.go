// Package student models the accounts the state server keeps: students,
// educators and the classes that group students for one story.
//
// Students are identified towards the apps by Username, which holds the
// hashed user reference (see cosmicds.HashUser), never the raw one.
//
//	st, err := student.NewStudent(student.NewStudentParams{
//	    Username:  hash,
//	    ClassCode: "hubble-101",
//	})
//
// Repository is implemented in infrastructure/persistence.
package student
