// Package cookies implements a per-account cookie store. Cookies are captured
// from raw Set-Cookie response lines, expire according to Max-Age or Expires
// attributes, and persist to a versioned JSON file. Updates to the Cloudflare
// clearance cookies persist synchronously; everything else is debounced.
package cookies

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codexgate/codexgate/internal/util"
)

// Cookie is a single stored cookie value with an optional absolute expiry.
type Cookie struct {
	Value   string     `json:"value"`
	Expires *time.Time `json:"expires,omitempty"`
}

// criticalCookies persist immediately on change; losing one forces a fresh
// anti-bot challenge on the next upstream call.
var criticalCookies = map[string]bool{
	"cf_clearance": true,
	"__cf_bm":      true,
}

const (
	storeVersion  = 2
	debounceDelay = time.Second
)

type persistedStore struct {
	Version  int                          `json:"_version"`
	Accounts map[string]map[string]Cookie `json:"accounts"`
}

// Jar is the per-account cookie store.
type Jar struct {
	mu       sync.Mutex
	path     string
	accounts map[string]map[string]Cookie
	timer    *time.Timer
	closed   bool
}

// NewJar loads the cookie file at path, accepting both the current versioned
// layout and the legacy v1 flat map.
func NewJar(path string) (*Jar, error) {
	j := &Jar{
		path:     path,
		accounts: make(map[string]map[string]Cookie),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, err
	}

	var store persistedStore
	if err = json.Unmarshal(data, &store); err == nil && store.Version == storeVersion {
		if store.Accounts != nil {
			j.accounts = store.Accounts
		}
		return j, nil
	}

	// v1 layout: {accountId: {name: value}} with plain string values.
	var legacy map[string]map[string]string
	if err = json.Unmarshal(data, &legacy); err != nil {
		log.Warnf("cookie store at %s is unreadable; starting empty: %v", path, err)
		return j, nil
	}
	for acct, cookieMap := range legacy {
		converted := make(map[string]Cookie, len(cookieMap))
		for name, value := range cookieMap {
			converted[name] = Cookie{Value: value}
		}
		j.accounts[acct] = converted
	}
	return j, nil
}

// CaptureSetCookies parses raw Set-Cookie lines for an account. Max-Age is
// preferred over Expires when both are present; Max-Age=0 removes the cookie.
func (j *Jar) CaptureSetCookies(accountID string, setCookies []string) {
	if accountID == "" || len(setCookies) == 0 {
		return
	}
	critical := false

	j.mu.Lock()
	for _, raw := range setCookies {
		name, cookie, remove, ok := parseSetCookie(raw)
		if !ok {
			continue
		}
		if criticalCookies[name] {
			critical = true
		}
		store := j.accounts[accountID]
		if store == nil {
			store = make(map[string]Cookie)
			j.accounts[accountID] = store
		}
		if remove {
			delete(store, name)
			continue
		}
		store[name] = cookie
	}
	j.mu.Unlock()

	if critical {
		j.persistNow()
	} else {
		j.schedulePersist()
	}
}

// Header renders the Cookie header value for an account, skipping expired
// cookies.
func (j *Jar) Header(accountID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	store := j.accounts[accountID]
	if len(store) == 0 {
		return ""
	}
	now := time.Now()
	var b strings.Builder
	for name, cookie := range store {
		if cookie.Expires != nil && cookie.Expires.Before(now) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cookie.Value)
	}
	return b.String()
}

// Cookies returns a copy of an account's cookie map.
func (j *Jar) Cookies(accountID string) map[string]Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	store := j.accounts[accountID]
	out := make(map[string]Cookie, len(store))
	for name, cookie := range store {
		out[name] = cookie
	}
	return out
}

// Set stores one cookie directly (management endpoint path).
func (j *Jar) Set(accountID, name, value string, expires *time.Time) {
	j.mu.Lock()
	store := j.accounts[accountID]
	if store == nil {
		store = make(map[string]Cookie)
		j.accounts[accountID] = store
	}
	store[name] = Cookie{Value: value, Expires: expires}
	j.mu.Unlock()

	if criticalCookies[name] {
		j.persistNow()
	} else {
		j.schedulePersist()
	}
}

// Delete removes one cookie. Clear drops every cookie for the account.
func (j *Jar) Delete(accountID, name string) {
	j.mu.Lock()
	if store := j.accounts[accountID]; store != nil {
		delete(store, name)
	}
	j.mu.Unlock()
	j.schedulePersist()
}

// Clear removes all cookies for an account.
func (j *Jar) Clear(accountID string) {
	j.mu.Lock()
	delete(j.accounts, accountID)
	j.mu.Unlock()
	j.persistNow()
}

// Close flushes any pending write.
func (j *Jar) Close() {
	j.mu.Lock()
	j.closed = true
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.mu.Unlock()
	j.persistNow()
}

func (j *Jar) schedulePersist() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if j.timer != nil {
		j.timer.Reset(debounceDelay)
		return
	}
	j.timer = time.AfterFunc(debounceDelay, func() {
		j.mu.Lock()
		j.timer = nil
		j.mu.Unlock()
		j.persistNow()
	})
}

func (j *Jar) persistNow() {
	j.mu.Lock()
	store := persistedStore{Version: storeVersion, Accounts: j.accounts}
	data, err := json.MarshalIndent(&store, "", "  ")
	j.mu.Unlock()
	if err != nil {
		log.Errorf("failed to marshal cookie store: %v", err)
		return
	}
	if err = util.AtomicWriteFile(j.path, data, 0o600); err != nil {
		log.Errorf("failed to persist cookie store: %v", err)
	}
}

// parseSetCookie extracts the name, value, and expiry of one raw Set-Cookie
// line. remove reports a Max-Age=0 (or negative) deletion.
func parseSetCookie(raw string) (name string, cookie Cookie, remove bool, ok bool) {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return "", Cookie{}, false, false
	}
	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nameValue) != 2 || nameValue[0] == "" {
		return "", Cookie{}, false, false
	}
	name = nameValue[0]
	cookie.Value = nameValue[1]

	var expires *time.Time
	maxAgeSeen := false
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		eq := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(eq[0])
		switch key {
		case "max-age":
			if len(eq) != 2 {
				continue
			}
			seconds, err := strconv.Atoi(strings.TrimSpace(eq[1]))
			if err != nil {
				continue
			}
			maxAgeSeen = true
			if seconds <= 0 {
				return name, Cookie{}, true, true
			}
			t := time.Now().Add(time.Duration(seconds) * time.Second)
			expires = &t
		case "expires":
			if maxAgeSeen || len(eq) != 2 {
				continue
			}
			if t, err := time.Parse(time.RFC1123, strings.TrimSpace(eq[1])); err == nil {
				expires = &t
			} else if t, err = time.Parse("Mon, 02-Jan-2006 15:04:05 MST", strings.TrimSpace(eq[1])); err == nil {
				expires = &t
			}
		}
	}
	cookie.Expires = expires
	return name, cookie, false, true
}
