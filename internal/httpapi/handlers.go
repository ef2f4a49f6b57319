package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/hub"
	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
	"github.com/DoyleJ11/lobby-mapban/internal/mapban"
	"github.com/DoyleJ11/lobby-mapban/internal/store"
	"github.com/DoyleJ11/lobby-mapban/internal/types"
	pub "github.com/DoyleJ11/lobby-mapban/pkg/types"
)

const maxCodeAttempts = 8

// maxBlockSec is the longest cooldown that still fits a time.Duration.
const maxBlockSec = int64(math.MaxInt64 / int64(time.Second))

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// codeGen is swapped in tests to force collisions.
var codeGen = GenerateCode

func CreateLobby(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pub.CreateLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
			return
		}

		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := codeGen()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Internal", "failed to generate code")
				return
			}
			cfg, err := types.ConfigOf(code, req)
			if err != nil {
				writeError(w, http.StatusBadRequest, "InvalidConfig", err.Error())
				return
			}

			_, err = d.Hub.Create(r.Context(), cfg)
			switch {
			case err == nil:
				writeJSON(w, http.StatusCreated, pub.CreateLobbyResponse{Code: code})
				return
			case errors.Is(err, hub.ErrLobbyExists):
				d.Logger.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			case errors.Is(err, mapban.ErrInvalidConfig):
				writeError(w, http.StatusBadRequest, "InvalidConfig", err.Error())
				return
			default:
				d.Logger.Error("create lobby", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "Unavailable", "failed to create lobby")
				return
			}
		}
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "no free lobby code")
	}
}

func GetLobby(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, ok := lookup(d, w, r)
		if !ok {
			return
		}
		view, err := lb.State(r.Context())
		if err != nil {
			writeError(w, http.StatusGone, "LobbyClosed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ViewOf(view.State, view.Version))
	}
}

func RemoveLobby(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := d.Hub.Remove(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "lobby not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func SubmitBan(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pub.BanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
			return
		}
		lb, ok := lookup(d, w, r)
		if !ok {
			return
		}

		res, err := lb.Ban(r.Context(), req.UserID, req.MapID)
		if err == nil {
			err = res.Err
		}
		if err != nil {
			status, code := banStatus(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ViewOf(res.Snapshot.State, res.Snapshot.Version))
	}
}

func BlockUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pub.BlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "user_id is required")
			return
		}
		if req.DurationSec < 0 || req.DurationSec > maxBlockSec {
			writeError(w, http.StatusBadRequest, "BadRequest", "duration_sec out of range")
			return
		}
		code := chi.URLParam(r, "code")
		d.Ledger.BlockFor(code, req.UserID, time.Duration(req.DurationSec)*time.Second)
		d.Logger.Info("user excluded", zap.String("lobby", code), zap.String("user", req.UserID))

		writeJSON(w, http.StatusOK, pub.BlockResponse{
			UserID:       req.UserID,
			RemainingSec: int64(d.Ledger.RemainingTime(code, req.UserID) / time.Second),
		})
	}
}

func Admission(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "missing user_id")
			return
		}
		code := chi.URLParam(r, "code")
		view := pub.AdmissionView{Blocked: d.Ledger.IsBlocked(code, userID)}
		if view.Blocked {
			view.RemainingSec = int64(d.Ledger.RemainingTime(code, userID) / time.Second)
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func ListResults(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := d.Archive.ListResults(r.Context(), chi.URLParam(r, "code"))
		if errors.Is(err, store.ErrArchiveDisabled) {
			writeError(w, http.StatusNotImplemented, "ArchiveDisabled", err.Error())
			return
		}
		if err != nil {
			d.Logger.Error("list results", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal", "failed to list results")
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(d Deps, w http.ResponseWriter, r *http.Request) (*lobby.Lobby, bool) {
	lb, err := d.Hub.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
		return nil, false
	}
	if lb == nil {
		writeError(w, http.StatusNotFound, "NotFound", "lobby not found")
		return nil, false
	}
	return lb, true
}

// banStatus maps a rejected ban onto an HTTP status and error code.
func banStatus(err error) (int, string) {
	kind := mapban.KindOf(err)
	switch kind {
	case mapban.KindNotAuthorized:
		return http.StatusForbidden, string(kind)
	case mapban.KindNotYourTurn:
		return http.StatusConflict, string(kind)
	case mapban.KindInvalidMap:
		return http.StatusUnprocessableEntity, string(kind)
	case mapban.KindSessionResolved:
		return http.StatusGone, string(kind)
	}
	if errors.Is(err, lobby.ErrLobbyClosed) {
		return http.StatusGone, "LobbyClosed"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, pub.ErrorBody{Code: code, Message: msg})
}
