package student

import "context"

// Repository stores accounts and classes.
type Repository interface {
	// CreateStudent assigns s.ID and enrolls s in the class with
	// classCode when one is given. Returns ErrStudentAlreadyExists for a
	// taken username and ErrClassNotFound for an unknown code.
	CreateStudent(ctx context.Context, s *Student, classCode string) error

	// StudentByUsername returns ErrStudentNotFound when there is none.
	StudentByUsername(ctx context.Context, username string) (*Student, error)

	StudentByID(ctx context.Context, id int) (*Student, error)

	CreateEducator(ctx context.Context, e *Educator) error

	// EducatorByUsername returns ErrEducatorNotFound when there is none.
	EducatorByUsername(ctx context.Context, username string) (*Educator, error)

	// CreateClass assigns c.ID. Returns ErrClassAlreadyExists for a taken
	// code.
	CreateClass(ctx context.Context, c *Class) error

	// ClassForStudentStory returns the class studentID takes storyName in,
	// or ErrClassNotFound.
	ClassForStudentStory(ctx context.Context, studentID int, storyName string) (*Class, error)

	// ClassSize returns the number of enrolled students.
	ClassSize(ctx context.Context, classID int) (int, error)

	// ClassStudents returns the students of classID ordered by id.
	ClassStudents(ctx context.Context, classID int) ([]*Student, error)
}
