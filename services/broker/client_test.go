package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"broker_backend_project/services"

	"github.com/stretchr/testify/require"
)

func TestValidateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/session/check", r.URL.Path)
		if r.Header.Get("Authorization") == "Bearer good-blob" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	t.Run("accepted", func(t *testing.T) {
		ok, err := client.ValidateSession("good-blob")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("rejected is a clean no", func(t *testing.T) {
		ok, err := client.ValidateSession("stale-blob")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestValidateSessionTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewClient(server.URL)
	ok, err := client.ValidateSession("blob")
	require.Error(t, err)
	require.False(t, ok)
}

func TestQueryPositionsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.QueryPositions("stale-blob")
	require.ErrorIs(t, err, services.ErrPlatformUnauthorized)

	_, err = client.QueryBalance("stale-blob")
	require.ErrorIs(t, err, services.ErrPlatformUnauthorized)
}

func TestQueryPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/account/positions", r.URL.Path)
		require.Equal(t, "Bearer blob", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"positions": []map[string]interface{}{
				{"symbol": "600519", "quantity": 100, "cost_price": "1700.50"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	positions, err := client.QueryPositions("blob")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "600519", positions[0].Symbol)
	require.Equal(t, int64(100), positions[0].Quantity)
	require.Equal(t, "1700.5", positions[0].CostPrice.String())
}

func TestSmsLoginFlow(t *testing.T) {
	var sawCaptcha bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/device/register":
			json.NewEncoder(w).Encode(map[string]string{"device_token": "dev-1"})
		case "/api/v2/login/sms/send":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "dev-1", payload["device_token"])
			if _, ok := payload["captcha_x"]; ok {
				sawCaptcha = true
				json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":        "captcha_required",
				"captcha_image": "png-data",
				"track_width":   280,
			})
		case "/api/v2/login/sms/verify":
			json.NewEncoder(w).Encode(map[string]string{
				"account_id":    "acc-1",
				"session_token": "fresh-blob",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	login := client.NewLoginClient("13800001234")

	require.NoError(t, login.InitDeviceIdentity())

	result, err := login.SendAutoVerification()
	require.NoError(t, err)
	require.Equal(t, services.SendCaptchaRequired, result.Status)
	require.Equal(t, "png-data", result.CaptchaImage)
	require.Equal(t, 280, result.CaptchaTrackWidth)

	result, err = login.SendWithCaptcha(132, 280)
	require.NoError(t, err)
	require.Equal(t, services.SendOK, result.Status)
	require.True(t, sawCaptcha)

	session, err := login.VerifySmsCode("123456")
	require.NoError(t, err)
	require.Equal(t, "acc-1", session.BrokerAccountID)
	require.Equal(t, "fresh-blob", session.CookieBlob)
	require.Equal(t, "sms", session.Method)
}

func TestQRLoginFlow(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/login/qr/create":
			json.NewEncoder(w).Encode(map[string]string{"qr_id": "qr-9", "image": "qr-png"})
		case "/api/v2/login/qr/qr-9/status":
			polls++
			switch polls {
			case 1:
				json.NewEncoder(w).Encode(map[string]string{"status": "waiting"})
			case 2:
				json.NewEncoder(w).Encode(map[string]string{"status": "scanned"})
			default:
				json.NewEncoder(w).Encode(map[string]string{
					"status":        "confirmed",
					"account_id":    "acc-1",
					"session_token": "qr-blob",
				})
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	qr, err := client.NewQRLogin()
	require.NoError(t, err)
	require.Equal(t, "qr-9", qr.SessionID())
	require.Equal(t, "qr-png", qr.ImageBase64())

	state, _, err := qr.Poll()
	require.NoError(t, err)
	require.Equal(t, services.QRWaiting, state)

	state, _, err = qr.Poll()
	require.NoError(t, err)
	require.Equal(t, services.QRScanned, state)

	state, session, err := qr.Poll()
	require.NoError(t, err)
	require.Equal(t, services.QRConfirmed, state)
	require.Equal(t, "qr-blob", session.CookieBlob)
	require.Equal(t, "qr", session.Method)
}
