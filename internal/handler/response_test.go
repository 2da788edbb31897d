package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/carelane/booking-api/pkg/errors"
)

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondError(c, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRespondErrorMapsAppErrorCodes(t *testing.T) {
	cases := []struct {
		code       apperrors.ErrorCode
		wantStatus int
	}{
		{apperrors.ErrInvalidRange, http.StatusBadRequest},
		{apperrors.ErrCapacityOutOfBounds, http.StatusBadRequest},
		{apperrors.ErrOverlapConflict, http.StatusConflict},
		{apperrors.ErrSlotSaturated, http.StatusConflict},
		{apperrors.ErrSlotBusy, http.StatusConflict},
		{apperrors.ErrCapacityConflict, http.StatusConflict},
		{apperrors.ErrAlreadyResolved, http.StatusConflict},
		{apperrors.ErrInvalidTransition, http.StatusConflict},
		{apperrors.ErrNoMatchingSlot, http.StatusUnprocessableEntity},
		{apperrors.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		w, body := respond(t, apperrors.New(tc.code, "boom").WithContext("slot_id", "abc"))
		assert.Equal(t, tc.wantStatus, w.Code, string(tc.code))
		assert.Equal(t, "error", body.Status)
		assert.Equal(t, string(tc.code), body.Code)
		assert.Equal(t, "abc", body.Context["slot_id"])
	}
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	w, body := respond(t, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, body.Message, "pq:")
}
