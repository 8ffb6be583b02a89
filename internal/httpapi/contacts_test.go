package httpapi

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactBody(first, last, email, birth string) gin.H {
	return gin.H{
		"firstname":     first,
		"lastname":      last,
		"email":         email,
		"phone_number":  "+1-555-0100",
		"date_of_birth": birth,
		"relationship":  "friend",
	}
}

func (ts *testServer) createContactHTTP(t *testing.T, access string, body gin.H) contactView {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/contacts", body, bearer(access))
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var created contactView
	decodeJSON(t, w, &created)
	return created
}

func TestContactCRUD(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	created := ts.createContactHTTP(t, pair.AccessToken, contactBody("Wade", "Wilson", "wade@example.com", "1974-11-22"))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "1974-11-22", created.BirthDate.Format(dateLayout))

	w := ts.do(t, http.MethodGet, "/api/contacts/"+created.ID, nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var got contactView
	decodeJSON(t, w, &got)
	assert.Equal(t, "Wade", got.FirstName)

	w = ts.do(t, http.MethodPut, "/api/contacts/"+created.ID,
		contactBody("Wade", "Wilson", "wade.wilson@example.com", "1974-11-22"), bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var updated contactView
	decodeJSON(t, w, &updated)
	assert.Equal(t, "wade.wilson@example.com", updated.Email)

	w = ts.do(t, http.MethodDelete, "/api/contacts/"+created.ID, nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/contacts/"+created.ID, nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContactListPagination(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	for i := 0; i < 3; i++ {
		body := contactBody("Contact"+strconv.Itoa(i), "Person", "c"+strconv.Itoa(i)+"@example.com", "1990-01-15")
		w := ts.do(t, http.MethodPost, "/api/contacts", body, bearer(pair.AccessToken))
		require.Equal(t, http.StatusCreated, w.Code)
		// Stay inside the 2-per-5s creation budget.
		if i == 1 {
			ts.mr.FastForward(5 * time.Second)
		}
	}

	w := ts.do(t, http.MethodGet, "/api/contacts?skip=1&limit=1", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var page []contactView
	decodeJSON(t, w, &page)
	require.Len(t, page, 1)
	assert.Equal(t, "Contact1", page[0].FirstName)

	// An empty page is a JSON array, not null.
	w = ts.do(t, http.MethodGet, "/api/contacts?skip=50", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/contacts?skip=-1", nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContactOwnershipScoping(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")
	other := ts.confirmedAccount(t, "logan", "logan@example.com", "secret-pass")

	created := ts.createContactHTTP(t, owner.AccessToken, contactBody("Wade", "Wilson", "wade@example.com", "1974-11-22"))

	// A foreign contact id behaves exactly like a missing one.
	w := ts.do(t, http.MethodGet, "/api/contacts/"+created.ID, nil, bearer(other.AccessToken))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/contacts/"+created.ID, nil, bearer(other.AccessToken))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/contacts", nil, bearer(other.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	// The owner still sees it.
	w = ts.do(t, http.MethodGet, "/api/contacts/"+created.ID, nil, bearer(owner.AccessToken))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContactCreateRateLimited(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	for i := 0; i < 2; i++ {
		body := contactBody("Contact"+strconv.Itoa(i), "Person", "c"+strconv.Itoa(i)+"@example.com", "1990-01-15")
		w := ts.do(t, http.MethodPost, "/api/contacts", body, bearer(pair.AccessToken))
		require.Equal(t, http.StatusCreated, w.Code, "create %d body: %s", i, w.Body.String())
	}

	w := ts.do(t, http.MethodPost, "/api/contacts",
		contactBody("Over", "Budget", "over@example.com", "1990-01-15"), bearer(pair.AccessToken))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err, "Retry-After header: %q", w.Header().Get("Retry-After"))
	assert.Positive(t, retry)
	assert.LessOrEqual(t, retry, 5)

	// The window reopens with a full budget.
	ts.mr.FastForward(5 * time.Second)
	w = ts.do(t, http.MethodPost, "/api/contacts",
		contactBody("Fresh", "Window", "fresh@example.com", "1990-01-15"), bearer(pair.AccessToken))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestFindContacts(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	ts.createContactHTTP(t, pair.AccessToken, contactBody("Wade", "Wilson", "wade@example.com", "1974-11-22"))
	ts.createContactHTTP(t, pair.AccessToken, contactBody("Vanessa", "Carlysle", "vanessa@example.com", "1980-05-01"))

	w := ts.do(t, http.MethodGet, "/api/contacts/find?firstname=wad", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var found []contactView
	decodeJSON(t, w, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "Wade", found[0].FirstName)

	// Filters combine; a mismatching pair finds nothing.
	w = ts.do(t, http.MethodGet, "/api/contacts/find?firstname=wade&email=vanessa", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestUpcomingBirthdays(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	soon := time.Now().AddDate(0, 0, 2)
	far := time.Now().AddDate(0, 0, 40)

	ts.createContactHTTP(t, pair.AccessToken,
		contactBody("Soon", "Birthday", "soon@example.com", time.Date(1990, soon.Month(), soon.Day(), 0, 0, 0, 0, time.UTC).Format(dateLayout)))
	ts.mr.FastForward(5 * time.Second)
	ts.createContactHTTP(t, pair.AccessToken,
		contactBody("Far", "Birthday", "far@example.com", time.Date(1990, far.Month(), far.Day(), 0, 0, 0, 0, time.UTC).Format(dateLayout)))

	w := ts.do(t, http.MethodGet, "/api/contacts/birthdays", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)

	var list []contactView
	decodeJSON(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Soon", list[0].FirstName)
}

func TestContactValidation(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	missingDate := contactBody("Wade", "Wilson", "wade@example.com", "1974-11-22")
	delete(missingDate, "date_of_birth")

	badDate := contactBody("Wade", "Wilson", "wade@example.com", "22/11/1974")
	badEmail := contactBody("Wade", "Wilson", "not-an-email", "1974-11-22")

	for name, body := range map[string]gin.H{
		"missing date": missingDate,
		"bad date":     badDate,
		"bad email":    badEmail,
	} {
		w := ts.do(t, http.MethodPost, "/api/contacts", body, bearer(pair.AccessToken))
		assert.Equal(t, http.StatusBadRequest, w.Code, "case %q admitted: %s", name, w.Body.String())
	}
}

func TestContactGarbageIDIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	pair := ts.confirmedAccount(t, "deadpool", "dp@example.com", "secret-pass")

	w := ts.do(t, http.MethodGet, "/api/contacts/not-a-uuid", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"message":"contact not found"}`, w.Body.String())
}
