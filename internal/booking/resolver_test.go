package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFallback struct {
	mock.Mock
}

func (m *mockFallback) ResolveName(ctx context.Context, input string, candidates []string) (string, error) {
	args := m.Called(ctx, input, candidates)
	return args.String(0), args.Error(1)
}

var specialists = []Candidate{{ID: 1, Name: "Анна Петрова"}, {ID: 2, Name: "Ольга"}, {ID: 3, Name: "Анна Смирнова"}}

func TestMatch(t *testing.T) {
	tests := []struct {
		input  string
		wantID int64
		wantOK bool
	}{
		{"ольга", 2, true},
		{"ОЛЬГА", 2, true},
		{"анна", 1, true},
		{"смирнова", 3, true},
		{"хочу к Ольга", 2, true},
		{"Мария", 0, false},
		{"  ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, ok := Match(tt.input, specialists)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, c.ID)
		})
	}
}

func TestResolver_LiteralMatchSkipsFallback(t *testing.T) {
	fb := new(mockFallback)
	r := NewResolver(fb)

	c, ok, err := r.Resolve(context.Background(), "Ольга", specialists)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), c.ID)
	fb.AssertNotCalled(t, "ResolveName", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_FallbackOnMiss(t *testing.T) {
	fb := new(mockFallback)
	fb.On("ResolveName", mock.Anything, "Олга", []string{"Анна Петрова", "Ольга", "Анна Смирнова"}).Return("ольга", nil)
	r := NewResolver(fb)

	c, ok, err := r.Resolve(context.Background(), "Олга", specialists)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ольга", c.Name)
	fb.AssertExpectations(t)
}

func TestResolver_FallbackAnswerOutsideList(t *testing.T) {
	fb := new(mockFallback)
	fb.On("ResolveName", mock.Anything, "Маша", mock.Anything).Return("Мария", nil)
	r := NewResolver(fb)

	_, ok, err := r.Resolve(context.Background(), "Маша", specialists)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_FallbackError(t *testing.T) {
	boom := errors.New("llm down")
	fb := new(mockFallback)
	fb.On("ResolveName", mock.Anything, "Маша", mock.Anything).Return("", boom)
	r := NewResolver(fb)

	_, ok, err := r.Resolve(context.Background(), "Маша", specialists)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestResolver_WithoutFallback(t *testing.T) {
	_, ok, err := NewResolver(nil).Resolve(context.Background(), "Маша", specialists)
	require.NoError(t, err)
	assert.False(t, ok)
}
