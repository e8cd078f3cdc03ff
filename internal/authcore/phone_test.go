package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/better-auth/authd/storage"
)

func sendPhoneOTP(t *testing.T, core *Core, store storage.Store, notifier *capturingNotifier, phone string) string {
	t.Helper()
	body, _ := json.Marshal(signInPhoneNumberRequest{PhoneNumber: phone})
	if err := core.handleSignInPhoneNumber(newCtx(httptest.NewRequest(http.MethodPost, "/sign-in/phone-number", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("handleSignInPhoneNumber: %v", err)
	}
	if notifier.otpCode == "" {
		t.Fatalf("expected an OTP to be sent")
	}
	return notifier.otpCode
}

func TestHandleVerifyPhoneNumberMarksExistingUserVerified(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})
	user := storage.User{ID: storage.NewID(), Email: "ada@example.com", PhoneNumber: "+15550001234"}
	if _, err := store.Create(context.Background(), storage.ModelUser, user.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	code := sendPhoneOTP(t, core, store, notifier, "+15550001234")

	body, _ := json.Marshal(verifyPhoneNumberRequest{PhoneNumber: "+15550001234", Code: code})
	w := httptest.NewRecorder()
	if err := core.handleVerifyPhoneNumber(newCtx(httptest.NewRequest(http.MethodPost, "/phone-number/verify", bytes.NewReader(body)), w, store, nil, nil)); err != nil {
		t.Fatalf("handleVerifyPhoneNumber: %v", err)
	}

	updated, _ := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("id", user.ID)}, nil)
	if !storage.UserFromRecord(updated).PhoneVerified {
		t.Errorf("user.phoneVerified not set after verification")
	}
	var resp signInEmailResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == nil || *resp.Token == "" {
		t.Errorf("expected a session token, got %+v", resp)
	}
}

func TestHandleVerifyPhoneNumberRejectsWrongCode(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})
	user := storage.User{ID: storage.NewID(), Email: "ada@example.com", PhoneNumber: "+15550001234"}
	if _, err := store.Create(context.Background(), storage.ModelUser, user.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	sendPhoneOTP(t, core, store, notifier, "+15550001234")

	body, _ := json.Marshal(verifyPhoneNumberRequest{PhoneNumber: "+15550001234", Code: "000000"})
	err := core.handleVerifyPhoneNumber(newCtx(httptest.NewRequest(http.MethodPost, "/phone-number/verify", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil))
	if err == nil {
		t.Errorf("verifying with the wrong code: want error")
	}
}

func TestHandleVerifyPhoneNumberRejectsUnknownNumberByDefault(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})
	code := sendPhoneOTP(t, core, store, notifier, "+15550009999")

	body, _ := json.Marshal(verifyPhoneNumberRequest{PhoneNumber: "+15550009999", Code: code})
	err := core.handleVerifyPhoneNumber(newCtx(httptest.NewRequest(http.MethodPost, "/phone-number/verify", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil))
	if err == nil {
		t.Errorf("verifying an unregistered phone number: want error")
	}
}

func TestHandleVerifyPhoneNumberCreatesUserWhenSignUpOnVerification(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier, SignUpOnVerification: true})
	code := sendPhoneOTP(t, core, store, notifier, "+15550009999")

	body, _ := json.Marshal(verifyPhoneNumberRequest{PhoneNumber: "+15550009999", Code: code})
	w := httptest.NewRecorder()
	if err := core.handleVerifyPhoneNumber(newCtx(httptest.NewRequest(http.MethodPost, "/phone-number/verify", bytes.NewReader(body)), w, store, nil, nil)); err != nil {
		t.Fatalf("handleVerifyPhoneNumber: %v", err)
	}

	rec, err := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("phoneNumber", "+15550009999")}, nil)
	if err != nil {
		t.Fatalf("expected a new user to be provisioned: %v", err)
	}
	if !storage.UserFromRecord(rec).PhoneVerified {
		t.Errorf("newly provisioned user not marked phoneVerified")
	}
}
