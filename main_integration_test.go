// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/core/captcha"
	"codeberg.org/casebook/casebook/core/wordpool"
	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/router"
	"codeberg.org/casebook/casebook/server/routes"
	"codeberg.org/casebook/casebook/server/security"
	"codeberg.org/casebook/casebook/server/session"
)

var (
	kitchenWords = []string{"spoon", "fork", "knife", "plate", "bowl", "pan", "kettle", "cup", "jug", "whisk"}
	gardenWords  = []string{"spade", "rake", "hose", "pot", "seed", "soil", "fence", "shed", "lawn", "hedge"}
)

type testApp struct {
	server   *httptest.Server
	client   *http.Client
	db       *database.DB
	mediaDir string
	caseID   int64
	teaser   int64
}

// newTestApp stands up the full router with an in-memory database and
// seeded editorial content. replyThrottle controls how soon consecutive
// replies require a captcha.
func newTestApp(t *testing.T, replyThrottle time.Duration) *testApp {
	t.Helper()

	config.Global.SetDefaults()
	config.Global.Instance.InstanceID = "test-instance"

	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now()
	past := now.Add(-24 * time.Hour)
	longPast := now.Add(-14 * 24 * time.Hour)
	future := now.Add(24 * time.Hour)

	caseID, err := db.InsertCase(ctx, database.Case{
		Publication: &past,
		Closure:     &future,
		Title:       "De gedeelde knuffel",
		Body:        "Twee kinderen willen dezelfde knuffel.",
		Proposition: "De knuffel gaat de kast in.",
	})
	require.NoError(t, err)

	// An older case whose voting window has closed, for the archive.
	_, err = db.InsertCase(ctx, database.Case{
		Publication: &longPast,
		Closure:     &past,
		Title:       "De verdwenen wanten",
		Body:        "Wie heeft de wanten het hardst nodig?",
		Proposition: "De wanten blijven op school.",
	})
	require.NoError(t, err)

	teaserID, err := db.InsertBrainTeaser(ctx, database.BrainTeaser{
		Publication: &past,
		Title:       "Eerlijk delen",
		Body:        "Wat is eerlijk delen eigenlijk?",
	})
	require.NoError(t, err)

	_, err = db.InsertLink(ctx, database.Link{
		Date:     now,
		Category: database.LinkBook,
		Body:     "Kleine filosofen",
		TitleTag: "J. de Vries",
	})
	require.NoError(t, err)

	pools, err := wordpool.FromMap(map[string][]string{
		"kitchen": kitchenWords,
		"garden":  gardenWords,
	})
	require.NoError(t, err)

	engine, err := captcha.New(pools, captcha.Config{})
	require.NoError(t, err)

	sessions := session.NewManager(db, "casebook_session", time.Hour)

	// Zero human lag keeps the test free of sleeps.
	guard := security.NewGuard(sessions, engine, 0, 30*time.Minute, replyThrottle)

	mediaDir := t.TempDir()
	api := routes.NewAPI(db, guard, mediaDir)

	rtr := router.NewRouter()
	rtr.DefineRoutes(api)
	rtr.RegisterMiddleware()

	server := httptest.NewServer(rtr)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testApp{
		server:   server,
		client:   &http.Client{Jar: jar},
		db:       db,
		mediaDir: mediaDir,
		caseID:   caseID,
		teaser:   teaserID,
	}
}

// naturalize adds the headers of a browser-driven asynchronous call.
func naturalize(r *http.Request) {
	r.Header.Set("X-Requested-With", "XMLHttpRequest")
	r.Header.Set("User-Agent", "Mozilla/5.0 (test)")
	r.Header.Set("Referer", "http://example.com/")
}

func (app *testApp) get(t *testing.T, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, app.server.URL+path, nil)
	require.NoError(t, err)
	naturalize(req)

	resp, err := app.client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func (app *testApp) postForm(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, app.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	naturalize(req)

	resp, err := app.client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// obtainToken performs the initial tokenized read.
func (app *testApp) obtainToken(t *testing.T) string {
	t.Helper()

	status, body := app.get(t, "/reflection/")
	require.Equal(t, http.StatusOK, status)

	token := gjson.Get(body, "token").String()
	require.Len(t, token, 30)

	return token
}

func TestVoteFlow(t *testing.T) {
	app := newTestApp(t, 0)

	token := app.obtainToken(t)

	// A protected vote with a fresh token succeeds and rotates the token.
	status, body := app.postForm(t, "/case/vote", url.Values{
		"id":     {strconv.FormatInt(app.caseID, 10)},
		"choice": {"yes"},
		"t":      {token},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", gjson.Get(body, "status").String())

	rotated := gjson.Get(body, "token").String()
	require.Len(t, rotated, 30)
	require.NotEqual(t, token, rotated)

	// Replaying the spent token is rejected.
	status, body = app.postForm(t, "/case/vote", url.Values{
		"id":     {strconv.FormatInt(app.caseID, 10)},
		"choice": {"yes"},
		"t":      {token},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "rejected", gjson.Get(body, "status").String())

	// The tally reflects the single accepted vote.
	status, body = app.get(t, "/case/")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, gjson.Get(body, "yes").Int())
	assert.EqualValues(t, 0, gjson.Get(body, "no").Int())
}

func TestCaseEndpoints(t *testing.T) {
	app := newTestApp(t, 0)

	status, body := app.get(t, "/case/")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "De gedeelde knuffel", gjson.Get(body, "title").String())

	// Only the closed case shows up in the archive.
	status, body = app.get(t, "/case/archive")
	require.Equal(t, http.StatusOK, status)

	archived := gjson.Get(body, "cases")
	require.EqualValues(t, 1, archived.Get("#").Int())
	assert.Equal(t, "De verdwenen wanten", archived.Get("0.title").String())

	status, body = app.get(t, "/case/9999")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not found", gjson.Get(body, "error").String())

	// A bare collection path is redirected to its canonical form.
	status, _ = app.get(t, "/case")
	require.Equal(t, http.StatusOK, status) // after following the 308
}

func TestTipsEndpoint(t *testing.T) {
	app := newTestApp(t, 0)

	status, body := app.get(t, "/tips/")
	require.Equal(t, http.StatusOK, status)

	books := gjson.Get(body, "book")
	require.EqualValues(t, 1, books.Get("#").Int())
	assert.Equal(t, "Kleine filosofen", books.Get("0.title").String())
	assert.Equal(t, "J. de Vries", books.Get("0.author").String())
}

func TestReplyFlow(t *testing.T) {
	app := newTestApp(t, 0)

	token := app.obtainToken(t)

	// A watermark predating everything the test inserts.
	lastRetrieve := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	replyPath := "/reflection/" + strconv.FormatInt(app.teaser, 10) + "/reply"

	status, body := app.postForm(t, replyPath, url.Values{
		"p":             {"Hanna"},
		"r":             {"Delen is pas eerlijk als iedereen iets krijgt."},
		"t":             {token},
		"last-retrieve": {lastRetrieve},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "success", gjson.Get(body, "status").String())

	token = gjson.Get(body, "token").String()

	// A response slipped in behind this client's back: the reply comes
	// back as a ninja so the client can re-render before posting.
	_, err := app.db.InsertResponse(context.Background(), app.teaser, "Sam", "Ik was eerst!", time.Now())
	require.NoError(t, err)

	status, body = app.postForm(t, replyPath, url.Values{
		"p":             {"Hanna"},
		"r":             {"Dan leg ik het nog een keer uit."},
		"t":             {token},
		"last-retrieve": {lastRetrieve},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ninja", gjson.Get(body, "status").String())
	assert.EqualValues(t, 2, gjson.Get(body, "new.#").Int())

	token = gjson.Get(body, "token").String()
	since := gjson.Get(body, "since").String()

	// Retrying with the refreshed watermark goes through.
	status, body = app.postForm(t, replyPath, url.Values{
		"p":             {"Hanna"},
		"r":             {"Dan leg ik het nog een keer uit."},
		"t":             {token},
		"last-retrieve": {since},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", gjson.Get(body, "status").String())
}

func TestReplyThrottleAndCaptcha(t *testing.T) {
	app := newTestApp(t, 10*time.Minute)

	token := app.obtainToken(t)
	replyPath := "/reflection/" + strconv.FormatInt(app.teaser, 10) + "/reply"

	post := func(token, answer string) (string, string) {
		form := url.Values{
			"p":             {"Olle"},
			"r":             {"Een knuffel kun je niet doormidden delen."},
			"t":             {token},
			"last-retrieve": {time.Now().UTC().Format(time.RFC3339Nano)},
		}
		if answer != "" {
			form.Set("ca", answer)
		}

		status, body := app.postForm(t, replyPath, form)
		require.Equal(t, http.StatusOK, status)

		return gjson.Get(body, "status").String(), body
	}

	// First reply passes; the second lands inside the throttle window
	// and earns a challenge.
	result, _ := post(token, "")
	require.Equal(t, "success", result)

	status, body := app.get(t, "/reflection/")
	require.Equal(t, http.StatusOK, status)
	token = gjson.Get(body, "token").String()

	result, body = post(token, "")
	require.Equal(t, "captcha", result)

	challenge := gjson.Get(body, "captcha_challenge").String()
	require.NotEmpty(t, challenge)

	token = gjson.Get(body, "token").String()

	// Solving the challenge lifts the throttle for this reply.
	result, _ = post(token, solveChallenge(t, challenge))
	require.Equal(t, "success", result)
}

// solveChallenge picks the minority-category words out of a challenge.
// The two seeded pools are disjoint, so the words drawn from the less
// represented pool are exactly the oddballs.
func solveChallenge(t *testing.T, challenge string) string {
	t.Helper()

	inKitchen := make(map[string]bool, len(kitchenWords))
	for _, w := range kitchenWords {
		inKitchen[w] = true
	}

	var kitchen, garden []string

	for _, word := range strings.Fields(challenge) {
		if inKitchen[word] {
			kitchen = append(kitchen, word)
		} else {
			garden = append(garden, word)
		}
	}

	require.NotEmpty(t, kitchen)
	require.NotEmpty(t, garden)

	if len(kitchen) < len(garden) {
		return strings.Join(kitchen, " ")
	}

	return strings.Join(garden, " ")
}

func TestMediaEndpoint(t *testing.T) {
	app := newTestApp(t, 0)

	require.NoError(t, os.WriteFile(filepath.Join(app.mediaDir, "cover.png"), []byte("not really a png"), 0o600))

	id, err := app.db.InsertPicture(context.Background(), database.Picture{
		MimeType: "image/png",
		Name:     "cover",
		Path:     "cover.png",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, app.server.URL+"/media/"+strconv.FormatInt(id, 10), nil)
	require.NoError(t, err)
	naturalize(req)

	resp, err := app.client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "not really a png", string(body))

	// A picture row pointing at a missing file is a plain 404.
	missing, err := app.db.InsertPicture(context.Background(), database.Picture{
		MimeType: "image/png",
		Name:     "gone",
		Path:     "gone.png",
	})
	require.NoError(t, err)

	status, _ := app.get(t, "/media/"+strconv.FormatInt(missing, 10))
	require.Equal(t, http.StatusNotFound, status)
}
