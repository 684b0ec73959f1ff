package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/flowledger/service/db"
	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Reader is the read side of the ledger. Reads never lock rows, so the
// query path cannot block ingestion; results may trail it slightly.
type Reader interface {
	ReadAggregate(ctx context.Context) (db.NetFlowAggregate, error)
	GetRawTransfer(ctx context.Context, txHash string) (db.RawTransfer, error)
	ListRawTransfers(ctx context.Context, params db.ListRawTransfersParams) ([]db.RawTransfer, error)
	CountRawTransfers(ctx context.Context, address string) (int64, error)
}

func handleGetNetFlow(store Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agg, err := store.ReadAggregate(r.Context())
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "net flow aggregate not initialized", http.StatusNotFound)
				return
			}
			logger.Error("failed to read net flow", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, agg, http.StatusOK)
	})
}

func handleGetTransfer(store Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txHash := r.PathValue("tx_hash")
		if !isTxHash(txHash) {
			writeError(w, "tx_hash must be a 0x-prefixed 32-byte hex string", http.StatusBadRequest)
			return
		}

		t, err := store.GetRawTransfer(r.Context(), txHash)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "transfer not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transfer", "tx_hash", txHash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, t, http.StatusOK)
	})
}

func handleListTransfers(store Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		address := query.Get("address")
		if address != "" && !common.IsHexAddress(address) {
			writeError(w, "address must be a 0x-prefixed 20-byte hex string", http.StatusBadRequest)
			return
		}

		limit, err := parseIntParam(query.Get("limit"), defaultListLimit)
		if err != nil {
			writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if limit < 1 {
			writeError(w, "limit must be at least 1", http.StatusBadRequest)
			return
		}
		if limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
			return
		}

		offset, err := parseIntParam(query.Get("offset"), 0)
		if err != nil {
			writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if offset < 0 {
			writeError(w, "offset cannot be negative", http.StatusBadRequest)
			return
		}

		transfers, err := store.ListRawTransfers(r.Context(), db.ListRawTransfersParams{
			Address: strings.ToLower(address),
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.Error("failed to list transfers", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		total, err := store.CountRawTransfers(r.Context(), strings.ToLower(address))
		if err != nil {
			logger.Error("failed to count transfers", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if transfers == nil {
			transfers = []db.RawTransfer{}
		}

		logger.Debug("transfers listed", "address", address, "count", len(transfers))

		writeJSON(w, map[string]interface{}{
			"transfers": transfers,
			"count":     len(transfers),
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

func parseIntParam(raw string, defaultValue int) (int, error) {
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
