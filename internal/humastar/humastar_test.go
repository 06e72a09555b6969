package humastar

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"downx": 10, "downy": 12.5, "upx": " 7.25", "upy": "x", "layer": "a"}`))
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Float("downx"))
	assert.Equal(t, 12.5, s.Float("downy"))
	assert.Equal(t, "a", s.String("layer"))
	assert.True(t, s.Has("layer"))
	assert.Equal(t, 7.25, s.Float("upx"))
	assert.Zero(t, s.Float("upy"))
	assert.False(t, s.Has("zoom"))
	assert.Zero(t, s.Float("zoom"))

	in := SignalsInput{RawBody: []byte("{")}
	_, err = in.MustParse()
	assert.Error(t, err)
}

func TestPaginationLinks(t *testing.T) {
	p := PageBody[int]{Total: 45, Offset: 20, Limit: 20}
	links := p.PaginationLinks("/api/v1/catalog/records", url.Values{"q": {"bore"}})
	assert.Equal(t, []string{
		`</api/v1/catalog/records?limit=20&offset=0&q=bore>; rel="first"`,
		`</api/v1/catalog/records?limit=20&offset=0&q=bore>; rel="prev"`,
		`</api/v1/catalog/records?limit=20&offset=40&q=bore>; rel="next"`,
		`</api/v1/catalog/records?limit=20&offset=40&q=bore>; rel="last"`,
	}, links)

	empty := PageBody[int]{Limit: 10}
	assert.Equal(t, []string{
		`</r?limit=10&offset=0>; rel="first"`,
		`</r?limit=10&offset=0>; rel="last"`,
	}, empty.PaginationLinks("/r", nil))
}

func TestActionsFor(t *testing.T) {
	actions := ActionsFor("geology", []ActionDef{
		{Rel: "opacity", Pattern: "/api/v1/layers/%s/opacity", Method: "PUT", Title: "Set opacity"},
	})
	require.Len(t, actions, 1)
	assert.Equal(t, `</api/v1/layers/geology/opacity>; rel="opacity"; method="PUT"; title="Set opacity"`, actions[0].LinkHeader())
}
