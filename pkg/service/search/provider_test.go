package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/service/search"
)

func TestNew(t *testing.T) {
	_, err := search.New("")
	gt.Error(t, err)
}

func TestProvider_Search(t *testing.T) {
	t.Run("sends localized query and maps results", func(t *testing.T) {
		var got struct {
			Q   string `json:"q"`
			Num int    `json:"num"`
			GL  string `json:"gl"`
			HL  string `json:"hl"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Value(t, r.Header.Get("X-API-KEY")).Equal("key")
			gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"organic":[
				{"title":"Ley 1258 de 2008","link":"https://www.suin-juriscol.gov.co/ley1258","snippet":"sociedad por acciones simplificada","position":1},
				{"title":"duplicate","link":"https://www.suin-juriscol.gov.co/ley1258","snippet":"dup","position":2},
				{"title":"no link","link":"","snippet":"","position":3}
			]}`))
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithSearchEndpoint(srv.URL))
		gt.NoError(t, err).Required()

		docs, err := p.Search(context.Background(), "requisitos SAS", 8)
		gt.NoError(t, err).Required()

		gt.Value(t, got.Q).Equal("requisitos SAS Colombia")
		gt.Value(t, got.Num).Equal(8)
		gt.Value(t, got.GL).Equal("co")
		gt.Value(t, got.HL).Equal("es")

		gt.Array(t, docs).Length(1).Required()
		gt.Value(t, docs[0].Title).Equal("Ley 1258 de 2008")
	})

	t.Run("query already naming the jurisdiction is kept", func(t *testing.T) {
		var q string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			gt.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			q = body["q"].(string)
			_, _ = w.Write([]byte(`{"organic":[]}`))
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithSearchEndpoint(srv.URL))
		gt.NoError(t, err).Required()

		_, err = p.Search(context.Background(), "SAS en colombia", 8)
		gt.NoError(t, err).Required()
		gt.Value(t, q).Equal("SAS en colombia")
	})

	t.Run("error status is returned as error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithSearchEndpoint(srv.URL))
		gt.NoError(t, err).Required()

		_, err = p.Search(context.Background(), "SAS", 8)
		gt.Error(t, err)
	})
}

func TestProvider_FetchFullText(t *testing.T) {
	t.Run("normalizes and caps content", func(t *testing.T) {
		body := "Artículo 5.   Contenido\n\n\n\n\ndel documento" + strings.Repeat(" texto", 1000)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Value(t, r.URL.Path).Equal("/https://www.secretariasenado.gov.co/ley_1258_2008.html")
			_, _ = w.Write([]byte(body))
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithReaderEndpoint(srv.URL+"/"))
		gt.NoError(t, err).Required()

		text := p.FetchFullText(context.Background(), "https://www.secretariasenado.gov.co/ley_1258_2008.html", time.Second)
		gt.String(t, text).HasPrefix("Artículo 5. Contenido\n\ndel documento")
		gt.Number(t, len(text)).LessOrEqual(search.MaxContentLength)
	})

	t.Run("timeout yields empty text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithReaderEndpoint(srv.URL+"/"))
		gt.NoError(t, err).Required()

		gt.Value(t, p.FetchFullText(context.Background(), "https://slow.example.com", 50*time.Millisecond)).Equal("")
	})

	t.Run("error status yields empty text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		p, err := search.New("key", search.WithReaderEndpoint(srv.URL+"/"))
		gt.NoError(t, err).Required()

		gt.Value(t, p.FetchFullText(context.Background(), "https://blocked.example.com", time.Second)).Equal("")
	})
}

func TestNormalizeText(t *testing.T) {
	gt.Value(t, search.NormalizeText("  a  \n\n\n\nb   c  ", 0)).Equal("a \n\nb c")
	gt.Value(t, search.NormalizeText("ññ", 3)).Equal("ñ")
}

func TestProvider_WithRealSerper(t *testing.T) {
	apiKey := os.Getenv("TEST_SERPER_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_SERPER_API_KEY not set")
	}

	p, err := search.New(apiKey)
	gt.NoError(t, err).Required()

	docs, err := p.Search(context.Background(), "Ley 1258 de 2008 sociedad por acciones simplificada", 5)
	gt.NoError(t, err).Required()
	gt.Number(t, len(docs)).Greater(0)
}
