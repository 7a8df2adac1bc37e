package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// Request headers.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderCosigner  = "X-Cosigner"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxSigner
	ctxCosigners
)

// responseWriter captures the status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if isUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		entry := s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"bytes":       wrapped.written,
			"request_id":  requestID(r.Context()),
		})
		if wrapped.statusCode >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logrus.Fields{
					"panic":      rec,
					"stack":      string(debug.Stack()),
					"request_id": requestID(r.Context()),
				}).Error("handler panicked")
				writeProblem(w, http.StatusInternalServerError, "Internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// DefaultSignatureWindow bounds how far X-Timestamp may drift from the server clock.
const DefaultSignatureWindow = 5 * time.Minute

const (
	signingDomain  = "dextra-ledger/v1"
	minNonceLength = 8
	maxNonceLength = 128
)

// SigningMessage returns the bytes a signer signs for a request: the method,
// the request URI, the timestamp, the nonce and the raw body.
func SigningMessage(method, uri string, timestamp int64, nonce string, body []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(signingDomain) + len(method) + len(uri) + len(nonce) + len(body) + 32)
	b.WriteString(signingDomain)
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(uri)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}

// signerMiddleware verifies X-Signer/X-Signature and any co-signatures over
// SigningMessage, rejects stale timestamps and reused nonces, then restores
// the body for the handler.
func (s *Server) signerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeProblem(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		now := s.now()
		ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "InvalidSignature", "missing or malformed timestamp")
			return
		}
		if drift := now.Sub(time.Unix(ts, 0)); drift > s.window || drift < -s.window {
			writeProblem(w, http.StatusUnauthorized, "ExpiredRequest", "timestamp outside the accepted window")
			return
		}
		nonce := r.Header.Get(HeaderNonce)
		if len(nonce) < minNonceLength || len(nonce) > maxNonceLength {
			writeProblem(w, http.StatusUnauthorized, "InvalidSignature", "missing or malformed nonce")
			return
		}

		message := SigningMessage(r.Method, r.URL.RequestURI(), ts, nonce, body)
		signer, err := verify(r.Header.Get(HeaderSigner), r.Header.Get(HeaderSignature), message)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "InvalidSignature", err.Error())
			return
		}

		var cosigners []solana.PublicKey
		for _, v := range r.Header.Values(HeaderCosigner) {
			key, sig, ok := strings.Cut(v, ".")
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "InvalidSignature", "malformed co-signer header")
				return
			}
			pk, err := verify(key, sig, message)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "InvalidSignature", fmt.Sprintf("co-signer: %v", err))
				return
			}
			cosigners = append(cosigners, pk)
		}

		// The nonce must outlive every timestamp that could still pass the window check.
		expires := time.Unix(ts, 0).Add(s.window).Unix() + 1
		if err := s.nonces.Use(r.Context(), signer, nonce, now.Unix(), expires); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				writeProblem(w, http.StatusUnauthorized, "ReplayedRequest", "nonce already used")
				return
			}
			s.logger.WithError(err).WithField("request_id", requestID(r.Context())).Error("record nonce")
			writeProblem(w, http.StatusInternalServerError, "Internal", "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), ctxSigner, signer)
		ctx = context.WithValue(ctx, ctxCosigners, cosigners)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func verify(key, signature string, message []byte) (solana.PublicKey, error) {
	if key == "" || signature == "" {
		return solana.PublicKey{}, errors.New("missing signer or signature")
	}
	pk, err := solana.ParsePublicKey(key)
	if err != nil {
		return solana.PublicKey{}, err
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return solana.PublicKey{}, errors.New("malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig) {
		return solana.PublicKey{}, errors.New("signature does not match request")
	}
	return pk, nil
}

// Sign returns the header value of an ed25519 signature over message.
func Sign(key ed25519.PrivateKey, message []byte) string {
	return base58.Encode(ed25519.Sign(key, message))
}

// SignRequest sets the signer, timestamp, nonce and signature headers on req
// for the given body. Co-signers sign the same SigningMessage and are added
// with AddCosigner.
func SignRequest(req *http.Request, key ed25519.PrivateKey, body []byte, timestamp int64, nonce string) {
	req.Header.Set(HeaderSigner, base58.Encode(key.Public().(ed25519.PublicKey)))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, Sign(key, SigningMessage(req.Method, req.URL.RequestURI(), timestamp, nonce, body)))
}

// AddCosigner appends a co-signature over the request already signed with SignRequest.
func AddCosigner(req *http.Request, key ed25519.PrivateKey, body []byte) error {
	ts, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("request is not signed: %w", err)
	}
	message := SigningMessage(req.Method, req.URL.RequestURI(), ts, req.Header.Get(HeaderNonce), body)
	req.Header.Add(HeaderCosigner, base58.Encode(key.Public().(ed25519.PublicKey))+"."+Sign(key, message))
	return nil
}

func signerFrom(ctx context.Context) solana.PublicKey {
	pk, _ := ctx.Value(ctxSigner).(solana.PublicKey)
	return pk
}

func cosignersFrom(ctx context.Context) []solana.PublicKey {
	keys, _ := ctx.Value(ctxCosigners).([]solana.PublicKey)
	return keys
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
