package cosmicds

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/logger"
)

// HashUser derives the opaque user key the API indexes students by.
func HashUser(ref, secret string) string {
	sum := sha1.Sum([]byte(ref + secret))
	return hex.EncodeToString(sum[:])
}

// HashUser hashes ref with the configured session secret.
func (c *Client) HashUser(ref string) string {
	return HashUser(ref, c.config.SessionSecret)
}

// UserInfo is what a session learns about its user at load.
type UserInfo struct {
	Student   StudentDTO
	ClassInfo map[string]any
	ClassSize int
}

// GetStudent returns the student registered under hash, or nil.
func (c *Client) GetStudent(ctx context.Context, hash string) (*StudentDTO, error) {
	var env studentEnvelope
	if err := c.get(ctx, "/student/"+url.PathEscape(hash), &env); err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return env.Student, nil
}

// UserExists reports whether a student is registered under hash.
func (c *Client) UserExists(ctx context.Context, hash string) (bool, error) {
	st, err := c.GetStudent(ctx, hash)
	if err != nil {
		return false, err
	}
	return st != nil, nil
}

// IsEducator reports whether hash belongs to an educator.
func (c *Client) IsEducator(ctx context.Context, hash string) (bool, error) {
	var env educatorEnvelope
	if err := c.get(ctx, "/educators/"+url.PathEscape(hash), &env); err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return env.Educator != nil, nil
}

// LoadUserInfo fetches the student and the class it takes storyID in.
func (c *Client) LoadUserInfo(ctx context.Context, hash, storyID string) (*UserInfo, error) {
	st, err := c.GetStudent(ctx, hash)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("load user info: %w", shared.ErrRemoteNoRecord)
	}

	var class classForStudentDTO
	path := fmt.Sprintf("/class-for-student-story/%d/%s", st.ID, url.PathEscape(storyID))
	if err := c.get(ctx, path, &class); err != nil && !shared.IsNotFound(err) {
		return nil, err
	}
	if class.Class == nil {
		class.Class = map[string]any{}
	}

	return &UserInfo{Student: *st, ClassInfo: class.Class, ClassSize: class.Size}, nil
}

// CreateNewUser registers hash as a student in the class with classCode
// and returns the loaded user info. An existing user is an error.
func (c *Client) CreateNewUser(ctx context.Context, hash, classCode, storyID string) (*UserInfo, error) {
	exists, err := c.UserExists(ctx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		c.logger.Error("student already exists", "user", hash)
		return nil, shared.NewDomainError("cosmicds", "CreateNewUser", shared.ErrAlreadyExists, "student already exists")
	}

	body := CreateStudentDTO{
		Username:      hash,
		Email:         hash,
		Gender:        "undefined",
		ClassroomCode: classCode,
	}
	if err := c.doRequest(ctx, request{method: http.MethodPost, path: "/students/create", body: body, want: http.StatusCreated}, nil); err != nil {
		c.logger.Error("failed to create student", logger.Err(err))
		return nil, err
	}
	return c.LoadUserInfo(ctx, hash, storyID)
}

// UpdateClassSize returns the current number of students in classID.
func (c *Client) UpdateClassSize(ctx context.Context, classID int) (int, error) {
	var size classSizeDTO
	if err := c.get(ctx, "/classes/size/"+strconv.Itoa(classID), &size); err != nil {
		return 0, err
	}
	return size.Size, nil
}
