package main

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	resp := func(code int) *http.Response { return &http.Response{StatusCode: code} }

	assert.Equal(t, outcomeOK, classify(resp(http.StatusCreated), nil, http.StatusCreated))
	assert.Equal(t, outcomeConflict, classify(resp(http.StatusConflict), nil, http.StatusCreated))
	assert.Equal(t, outcomeConflict, classify(resp(http.StatusForbidden), nil, http.StatusOK))
	assert.Equal(t, outcomeError, classify(resp(http.StatusOK), nil, http.StatusCreated))
	assert.Equal(t, outcomeError, classify(nil, errors.New("dial tcp: refused"), http.StatusOK))
}

func TestTallyReport(t *testing.T) {
	tl := newTally(opBook, opGet)
	for i := 1; i <= 20; i++ {
		tl.add(opBook, outcomeOK, time.Duration(i)*time.Millisecond)
	}
	tl.add(opBook, outcomeConflict, time.Millisecond)
	tl.add(opBook, outcomeError, time.Millisecond)

	var buf bytes.Buffer
	tl.report(&buf)
	out := buf.String()

	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, opBook)
	// no samples, no row
	assert.NotContains(t, out, opGet)

	fields := strings.Fields(strings.Split(out, "\n")[1])
	assert.Equal(t, []string{opBook, "22", "20", "1", "1"}, fields[:5])
	assert.Equal(t, "20ms", fields[len(fields)-1])
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4}
	assert.Equal(t, time.Duration(3), percentile(sorted, 50))
	assert.Equal(t, time.Duration(4), percentile(sorted, 95))
	assert.Equal(t, time.Duration(4), percentile(sorted, 100))
}

func TestEnvFallsBack(t *testing.T) {
	t.Setenv("SIM_TEST_WORKERS", "12")
	t.Setenv("SIM_TEST_RATIO", "abc")

	assert.Equal(t, 12, env("SIM_TEST_WORKERS", 1, strconv.Atoi))
	assert.Equal(t, 0.5, env("SIM_TEST_RATIO", 0.5, asFloat))
	assert.Equal(t, 2*time.Second, env("SIM_TEST_UNSET", 2*time.Second, time.ParseDuration))
}
