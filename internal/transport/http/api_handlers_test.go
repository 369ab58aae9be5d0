package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterLoginAndLookup(t *testing.T) {
	env := startTestServer(t, nil)

	resp := doJSON(t, env, http.MethodPost, "/api/register", `{"name":"carol","password":"secret123"}`, "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var registered AuthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &registered))
	require.NotEmpty(t, registered.Token)
	require.Equal(t, "carol", registered.User.Name)

	resp = doJSON(t, env, http.MethodPost, "/api/register", `{"name":"carol","password":"secret123"}`, "")
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = doJSON(t, env, http.MethodPost, "/api/register", `{"name":"x","password":"secret123"}`, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, env, http.MethodPost, "/api/login", `{"name":"carol","password":"secret123"}`, "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, env, http.MethodPost, "/api/login", `{"name":"carol","password":"wrong-one"}`, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(t, env, http.MethodGet, fmt.Sprintf("/api/users/%d", registered.User.ID), "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var user UserResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &user))
	require.Equal(t, registered.User, user)

	resp = doJSON(t, env, http.MethodGet, "/api/users/404", "", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	token, err = bearerToken("")
	require.NoError(t, err)
	require.Empty(t, token)

	_, err = bearerToken("Basic abc")
	require.ErrorIs(t, err, errBadAuthHeader)
}
