package cosmicds

import (
	"context"
	"net/http"
	"strconv"

	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// GetRoster returns the raw per-student records of classID. Their shape
// depends on the app generation the class used.
func (c *Client) GetRoster(ctx context.Context, classID int) ([]docdiff.Document, error) {
	var rows []docdiff.Document
	if err := c.get(ctx, "/classes/roster/"+strconv.Itoa(classID), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetStages returns the per-stage progress the API keeps for studentID
// outside the story document.
func (c *Client) GetStages(ctx context.Context, studentID int) (docdiff.Document, error) {
	var stages docdiff.Document
	if err := c.get(ctx, "/stages/"+strconv.Itoa(studentID), &stages); err != nil {
		return nil, err
	}
	if stages == nil {
		stages = docdiff.Document{}
	}
	return stages, nil
}

// GetMeasurements returns the galaxy measurements of studentID.
func (c *Client) GetMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error) {
	return c.getMeasurements(ctx, "/measurements/"+strconv.Itoa(studentID))
}

// GetSampleMeasurements returns the example galaxy measurements of
// studentID.
func (c *Client) GetSampleMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error) {
	return c.getMeasurements(ctx, "/sample-measurements/"+strconv.Itoa(studentID))
}

// GetClassMeasurements returns every measurement of classID.
func (c *Client) GetClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	return c.getMeasurements(ctx, "/class-measurements/"+strconv.Itoa(classID))
}

func (c *Client) getMeasurements(ctx context.Context, path string) ([]docdiff.Document, error) {
	var env measurementsEnvelope
	if err := c.get(ctx, path, &env); err != nil {
		return nil, err
	}
	if env.Measurements == nil {
		env.Measurements = []docdiff.Document{}
	}
	return env.Measurements, nil
}

// PutMeasurements replaces the measurements of studentID. measurements
// must encode as a JSON array.
func (c *Client) PutMeasurements(ctx context.Context, scope Scope, studentID int, measurements any) (Result, error) {
	return c.putMeasurements(ctx, scope, "/measurements/"+strconv.Itoa(studentID), studentID, measurements)
}

// PutSampleMeasurements replaces the example measurements of studentID.
func (c *Client) PutSampleMeasurements(ctx context.Context, scope Scope, studentID int, measurements any) (Result, error) {
	return c.putMeasurements(ctx, scope, "/sample-measurements/"+strconv.Itoa(studentID), studentID, measurements)
}

func (c *Client) putMeasurements(ctx context.Context, scope Scope, path string, studentID int, measurements any) (Result, error) {
	if !scope.Persists() {
		return Result{Skipped: true}, nil
	}
	body := map[string]any{"measurements": measurements}
	if err := c.doRequest(ctx, request{method: http.MethodPut, path: path, body: body}, nil); err != nil {
		c.logger.Error("failed to put measurements", logger.StudentID(studentID), "path", path, logger.Err(err))
		return Result{}, err
	}
	return Result{}, nil
}
