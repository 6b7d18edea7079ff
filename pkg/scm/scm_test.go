package scm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

func TestRevision_Sentinels(t *testing.T) {
	t.Parallel()

	assert.True(t, scm.Head.IsHead())
	assert.True(t, scm.PreCreation.IsPreCreation())
	assert.False(t, scm.Head.IsNative())
	assert.Equal(t, "HEAD", scm.Head.String())
	assert.Equal(t, "PRE-CREATION", scm.PreCreation.String())

	native := scm.NewRevision("1.2")
	assert.True(t, native.IsNative())
	assert.Equal(t, "1.2", native.String())
	assert.Equal(t, "1.2", native.Value())
	assert.Empty(t, scm.Head.Value())
}

func TestParseRevision_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, rev := range []scm.Revision{scm.Head, scm.PreCreation, scm.NewRevision("#5"), scm.NewRevision("1.4.2.1")} {
		assert.Equal(t, rev, scm.ParseRevision(rev.String()))
	}

	assert.True(t, scm.ParseRevision("").IsZero())
}

func TestRevision_TextMarshaling(t *testing.T) {
	t.Parallel()

	text, err := scm.PreCreation.MarshalText()
	require.NoError(t, err)

	var rev scm.Revision

	require.NoError(t, rev.UnmarshalText(text))
	assert.True(t, rev.IsPreCreation())
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"single line", "Fix the build", "Fix the build"},
		{"first line only", "Fix the build\nmore detail", "Fix the build"},
		{"paragraph joined", "Fix the\nbuild\n\nDetails follow.", "Fix the build"},
		{
			"late paragraph break falls back to first line",
			"This is a very long first line that keeps going well past the one hundred column mark for sure\nsecond\n\nbody",
			"This is a very long first line that keeps going well past the one hundred column mark for sure",
		},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, scm.Summarize(tt.description))
		})
	}
}

func TestNewChangeSet_DerivesSummary(t *testing.T) {
	t.Parallel()

	cs := scm.NewChangeSet("42", "alice", "Summary here\n\nBody", []string{"//depot/a"}, true)

	assert.Equal(t, "Summary here", cs.Summary)
	assert.True(t, cs.Pending)
	assert.Equal(t, []string{"//depot/a"}, cs.Files)
}

func TestErrorTaxonomy_AllMatchSCM(t *testing.T) {
	t.Parallel()

	errs := map[error]error{
		&scm.RepositoryNotFoundError{Path: "/x"}:                scm.ErrRepositoryNotFound,
		&scm.FileNotFoundError{Path: "a", Revision: scm.Head}:   scm.ErrFileNotFound,
		&scm.InvalidRevisionFormatError{Path: "a", Revision: "x"}: scm.ErrInvalidRevisionFormat,
		&scm.AuthenticationError{}:                              scm.ErrAuthentication,
		&scm.EmptyChangeSetError{ChangeNum: "1"}:                scm.ErrEmptyChangeSet,
		&scm.UnverifiedCertificateError{}:                       scm.ErrUnverifiedCertificate,
		&scm.UnsupportedSSHKeyError{}:                           scm.ErrUnsupportedSSHKey,
		&scm.BadHostKeyError{}:                                  scm.ErrBadHostKey,
		&scm.UnknownHostKeyError{}:                              scm.ErrUnknownHostKey,
	}

	for err, kind := range errs {
		assert.ErrorIs(t, err, scm.ErrSCM, "%T", err)
		assert.ErrorIs(t, err, kind, "%T", err)
	}

	assert.ErrorIs(t, scm.NewError("boom"), scm.ErrSCM)
	assert.NotErrorIs(t, scm.NewError("boom"), scm.ErrFileNotFound)
}

func TestFileNotFoundError_Message(t *testing.T) {
	t.Parallel()

	err := &scm.FileNotFoundError{Path: "foo.c", Revision: scm.NewRevision("1.3"), Detail: "no such file"}

	assert.Contains(t, err.Error(), `"foo.c"`)
	assert.Contains(t, err.Error(), "revision 1.3")
	assert.Contains(t, err.Error(), "no such file")
}

func TestAuthenticationError_AllowedTypes(t *testing.T) {
	t.Parallel()

	err := &scm.AuthenticationError{AllowedTypes: []string{"publickey", "password"}}

	assert.Contains(t, err.Error(), "publickey, password")
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	rules := []scm.Rule{
		{Substr: "no such file", Make: func(msg string) error { return &scm.FileNotFoundError{Path: "x", Detail: msg} }},
		{Substr: "password", Make: func(msg string) error { return &scm.AuthenticationError{Msg: msg} }},
	}

	err := scm.Translate("  error: no such file\n", rules...)
	require.ErrorIs(t, err, scm.ErrFileNotFound)

	var fnf *scm.FileNotFoundError

	require.ErrorAs(t, err, &fnf)
	assert.Equal(t, "error: no such file", fnf.Detail)

	err = scm.Translate("connection reset", rules...)
	require.ErrorIs(t, err, scm.ErrSCM)
	assert.Equal(t, "connection reset", err.Error())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, scm.Wrap(nil))

	inTaxonomy := &scm.EmptyChangeSetError{ChangeNum: "7"}
	assert.Same(t, inTaxonomy, scm.Wrap(inTaxonomy))

	cause := errors.New("io failure")
	wrapped := scm.Wrap(cause)
	require.ErrorIs(t, wrapped, scm.ErrSCM)
	assert.ErrorIs(t, wrapped, cause)
}

func TestParseBackendID(t *testing.T) {
	t.Parallel()

	for _, id := range scm.Backends() {
		got, err := scm.ParseBackendID(string(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	got, err := scm.ParseBackendID(" P4 ")
	require.NoError(t, err)
	assert.Equal(t, scm.BackendPerforce, got)

	_, err = scm.ParseBackendID("svn")
	assert.ErrorIs(t, err, scm.ErrUnknownBackend)
}

func TestRepositoryConfig_Extra(t *testing.T) {
	t.Parallel()

	cfg := &scm.RepositoryConfig{ExtraData: map[string]string{"use_ticket_auth": "True", "p4_client": "ws"}}

	assert.Equal(t, "ws", cfg.Extra("p4_client"))
	assert.True(t, cfg.ExtraBool("use_ticket_auth"))
	assert.False(t, cfg.ExtraBool("missing"))
	assert.Empty(t, (&scm.RepositoryConfig{}).Extra("x"))
}

type fetchOnlyClient struct {
	scm.Client

	files map[string][]byte
}

func (c *fetchOnlyClient) GetFile(_ context.Context, path string, rev scm.Revision) ([]byte, error) {
	data, ok := c.files[path]
	if !ok {
		return nil, &scm.FileNotFoundError{Path: path, Revision: rev}
	}

	return data, nil
}

func TestFileExistsByFetch(t *testing.T) {
	t.Parallel()

	client := &fetchOnlyClient{files: map[string][]byte{"a": []byte("x")}}
	ctx := context.Background()

	ok, err := scm.FileExistsByFetch(ctx, client, "a", scm.Head)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = scm.FileExistsByFetch(ctx, client, "b", scm.Head)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = scm.FileExistsByFetch(ctx, client, "a", scm.PreCreation)
	require.NoError(t, err)
	assert.False(t, ok)
}
