package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServiceStatus(t *testing.T) {
	assert.Equal(t, JobStatusNotStarted, ParseServiceStatus("notStarted"))
	assert.Equal(t, JobStatusRunning, ParseServiceStatus("running"))
	assert.Equal(t, JobStatusSucceeded, ParseServiceStatus("succeeded"))
	assert.Equal(t, JobStatusFailed, ParseServiceStatus("failed"))
	assert.Equal(t, JobStatusFailed, ParseServiceStatus("canceled"))
	assert.Equal(t, JobStatusRunning, ParseServiceStatus("queued"))
}

func TestParseJobStatus(t *testing.T) {
	st, ok := ParseJobStatus(" succeeded ")
	assert.True(t, ok)
	assert.Equal(t, JobStatusSucceeded, st)

	_, ok = ParseJobStatus("done")
	assert.False(t, ok)
}

func TestContentTypes(t *testing.T) {
	assert.Equal(t, ContentTypePDF, ContentTypeForExt(".PDF"))
	assert.Equal(t, "", ContentTypeForExt(".txt"))
	assert.Equal(t, "image/png", NormalizeContentType(" Image/PNG; charset=binary"))
	assert.True(t, IsSupportedContentType("application/x-pdf"))
	assert.False(t, IsSupportedContentType("text/plain"))
	assert.True(t, IsPDF("application/pdf"))
}

func TestHeadingLevelForRole(t *testing.T) {
	lvl, ok := HeadingLevelForRole("title")
	assert.True(t, ok)
	assert.Equal(t, H1, lvl)
	lvl, ok = HeadingLevelForRole("sectionHeading")
	assert.True(t, ok)
	assert.Equal(t, H1, lvl)
	_, ok = HeadingLevelForRole("pageFooter")
	assert.False(t, ok)
	assert.Len(t, AllHeadingLevels(), 6)
}
