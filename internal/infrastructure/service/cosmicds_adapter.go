// Package service adapts infrastructure clients to the interfaces the
// application layer declares.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/patudom/cds-app/internal/application/session"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// CosmicDSAdapter adapts cosmicds.Client to session.Remote.
type CosmicDSAdapter struct {
	client *cosmicds.Client
}

var _ session.Remote = (*CosmicDSAdapter)(nil)

func NewCosmicDSAdapter(client *cosmicds.Client) *CosmicDSAdapter {
	return &CosmicDSAdapter{client: client}
}

func scope(s session.Scope) cosmicds.Scope {
	return cosmicds.Scope{UpdateDB: s.UpdateDB, Educator: s.Educator}
}

// ResolveIdentity hashes ref, loads the student and its class, and asks
// whether the user is an educator.
func (a *CosmicDSAdapter) ResolveIdentity(ctx context.Context, ref, storyID string) (session.Identity, error) {
	hash := a.client.HashUser(ref)

	info, err := a.client.LoadUserInfo(ctx, hash, storyID)
	if err != nil {
		return session.Identity{}, err
	}
	educator, err := a.client.IsEducator(ctx, hash)
	if err != nil {
		return session.Identity{}, fmt.Errorf("educator lookup: %w", err)
	}
	return session.Identity{
		StudentID: info.Student.ID,
		ClassInfo: info.ClassInfo,
		ClassSize: info.ClassSize,
		Educator:  educator,
	}, nil
}

// LoadStoryState returns the "app" member of the stored story state.
func (a *CosmicDSAdapter) LoadStoryState(ctx context.Context, s session.Scope, studentID int, storyID string) (session.StoredState, error) {
	res, err := a.client.GetStoryState(ctx, scope(s), studentID, storyID)
	if err != nil || !res.Found {
		return session.StoredState{}, err
	}
	app, ok := res.State["app"].(docdiff.Document)
	if !ok {
		return session.StoredState{}, fmt.Errorf("%w: stored story state has no app member", shared.ErrDataIntegrity)
	}
	return session.StoredState{App: app, Found: true}, nil
}

func (a *CosmicDSAdapter) PatchStoryState(ctx context.Context, s session.Scope, studentID int, storyID string, patch docdiff.Document) (session.WriteResult, error) {
	res, err := a.client.PatchStoryState(ctx, scope(s), studentID, storyID, patch)
	return session.WriteResult{Skipped: res.Skipped, PatchID: res.PatchID}, err
}

func (a *CosmicDSAdapter) LoadMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, []docdiff.Document, error) {
	student, err := a.client.GetMeasurements(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	sample, err := a.client.GetSampleMeasurements(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	return student, sample, nil
}

// SaveMeasurements writes both lists; a failure of either is returned.
func (a *CosmicDSAdapter) SaveMeasurements(ctx context.Context, s session.Scope, studentID int, student, sample []docdiff.Document) error {
	_, errStudent := a.client.PutMeasurements(ctx, scope(s), studentID, student)
	_, errSample := a.client.PutSampleMeasurements(ctx, scope(s), studentID, sample)
	return errors.Join(errStudent, errSample)
}
