package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aind-capture/metadata-agent/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetRecord(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{
		"subject": map[string]any{
			"subject_id": "764054",
			"sex":        "Male",
		},
	}, "")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "subject", rec.RecordType)
	require.Equal(t, "shared", rec.Category)
	require.Equal(t, model.RecordStatusDraft, rec.Status)

	got, err := st.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, "764054", got.Data["subject"].(map[string]any)["subject_id"])
}

func TestGetRecordNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetRecord(context.Background(), "missing-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRecordRejectsUnknownType(t *testing.T) {
	st := openTestStore(t)
	_, err := st.CreateRecord(context.Background(), "s1", "nonsense", map[string]any{}, "")
	require.Error(t, err)
}

func TestUpdateRecordMergesData(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{
		"subject": map[string]any{"subject_id": "764054"},
	}, "")
	require.NoError(t, err)

	updated, err := st.UpdateRecord(ctx, rec.ID, map[string]any{
		"genotype": "wt/wt",
	}, "")
	require.NoError(t, err)
	require.Equal(t, "wt/wt", updated.Data["genotype"])
	// Existing keys survive a merge.
	require.Contains(t, updated.Data, "subject")
	require.False(t, updated.UpdatedAt.Before(rec.UpdatedAt))
}

func TestSetValidationAndConfirm(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateRecord(ctx, "s1", "data_description", map[string]any{
		"data_description": map[string]any{"project_name": "Thalamus"},
	}, "")
	require.NoError(t, err)

	err = st.SetRecordValidation(ctx, rec.ID, json.RawMessage(`{"status":"valid","completeness_score":1}`))
	require.NoError(t, err)

	got, err := st.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.RecordStatusValidated, got.Status)

	confirmed, err := st.ConfirmRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.RecordStatusConfirmed, confirmed.Status)
}

func TestDeleteRecord(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{}, "mouse A")
	require.NoError(t, err)

	deleted, err := st.DeleteRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = st.DeleteRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestListRecordsFilters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{}, "mouse A")
	require.NoError(t, err)
	_, err = st.CreateRecord(ctx, "s1", "instrument", map[string]any{}, "scope 1")
	require.NoError(t, err)
	_, err = st.CreateRecord(ctx, "s2", "subject", map[string]any{}, "mouse B")
	require.NoError(t, err)

	all, err := st.ListRecords(ctx, model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	subjects, err := st.ListRecords(ctx, model.RecordFilter{RecordType: "subject"})
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	s1, err := st.ListRecords(ctx, model.RecordFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, s1, 2)

	shared, err := st.ListRecords(ctx, model.RecordFilter{Category: "shared"})
	require.NoError(t, err)
	require.Len(t, shared, 2)

	named, err := st.ListRecords(ctx, model.RecordFilter{Query: "mouse"})
	require.NoError(t, err)
	require.Len(t, named, 2)
}

func TestLinkRecords(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{}, "a")
	require.NoError(t, err)
	b, err := st.CreateRecord(ctx, "s1", "session", map[string]any{}, "b")
	require.NoError(t, err)

	require.NoError(t, st.LinkRecords(ctx, a.ID, b.ID))
	// Linking twice is a no-op, not an error.
	require.NoError(t, st.LinkRecords(ctx, a.ID, b.ID))

	links, err := st.LinkedRecords(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, b.ID, links[0].ID)

	// Links are symmetric.
	links, err = st.LinkedRecords(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, a.ID, links[0].ID)

	removed, err := st.UnlinkRecords(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.True(t, removed)

	links, err = st.LinkedRecords(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestConversationHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleUser, "hi", []model.Attachment{
		{FileID: "f1", Filename: "scan.png", ContentType: "image/png"},
	}))
	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleAssistant, "hello", nil))
	require.NoError(t, st.SaveTurn(ctx, "s2", model.RoleUser, "other session", nil))

	history, err := st.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.RoleUser, history[0].Role)
	require.Equal(t, "hi", history[0].Content)
	require.Len(t, history[0].Attachments, 1)
	require.Equal(t, "scan.png", history[0].Attachments[0].Filename)
	require.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestSessionsSummary(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleUser, "capture a mouse subject", nil))
	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleAssistant, "sure", nil))

	sessions, err := st.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "s1", sessions[0].SessionID)
	require.Equal(t, 2, sessions[0].MessageCount)
	require.Equal(t, "capture a mouse subject", sessions[0].FirstMessage)
}

func TestDeleteSessionRemovesTurnsAndRecords(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleUser, "hi", nil))
	_, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{}, "m")
	require.NoError(t, err)

	deleted, err := st.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, deleted)

	history, err := st.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, history)

	records, err := st.ListRecords(ctx, model.RecordFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Empty(t, records)

	deleted, err = st.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestUploadsRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	up := model.Upload{
		ID:          "u1",
		Filename:    "scan.png",
		ContentType: "image/png",
		FilePath:    "/tmp/u1.png",
		SizeBytes:   1234,
		SessionID:   "s1",
	}
	require.NoError(t, st.SaveUpload(ctx, up))

	got, err := st.GetUpload(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "scan.png", got.Filename)
	require.Equal(t, int64(1234), got.SizeBytes)

	_, err = st.GetUpload(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
