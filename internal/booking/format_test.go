package booking

import (
	"testing"

	"beautybot/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestFormatServiceList(t *testing.T) {
	assert.Equal(t, msgNoServices, FormatServiceList(nil))

	got := FormatServiceList([]model.Service{
		{ID: 1, Title: "Haircut", Price: 1500, DurationMinutes: 45},
		{ID: 2, Title: "Manicure", Price: 900},
	})
	assert.Equal(t, "Наши услуги:\n- [1] Haircut — 1500 ₽, 45 мин\n- [2] Manicure — 900 ₽, 60 мин", got)
}

func TestServicePrompt_ShowsDuration(t *testing.T) {
	r := servicePrompt([]model.Service{{Title: "Coloring", Price: 3000, DurationMinutes: 150}}, "")
	assert.Contains(t, r.Text, "- Coloring — 3000 ₽, 150 мин")
	assert.Equal(t, []string{"Coloring"}, r.Options)
}
