package submit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solcrank/perp-keeper/internal/rpc"
	"github.com/solcrank/perp-keeper/internal/txn"
)

type fakeSender struct {
	blockhashes  []string
	blockhashErr error

	sendErrs  []error // One per SendTransaction call; nil means success
	sendCalls int
	hashCalls int
	wires     [][]byte
}

func (f *fakeSender) GetLatestBlockhash(ctx context.Context) (string, error) {
	f.hashCalls++
	if f.blockhashErr != nil {
		return "", f.blockhashErr
	}
	i := f.hashCalls - 1
	if i >= len(f.blockhashes) {
		i = len(f.blockhashes) - 1
	}
	return f.blockhashes[i], nil
}

func (f *fakeSender) SendTransaction(ctx context.Context, wire []byte) (string, error) {
	f.sendCalls++
	f.wires = append(f.wires, wire)
	if f.sendCalls <= len(f.sendErrs) {
		if err := f.sendErrs[f.sendCalls-1]; err != nil {
			return "", err
		}
	}
	return "sig-from-node", nil
}

func testSubmitter(t *testing.T, sender Sender, opts Options) *Submitter {
	t.Helper()
	payer, err := txn.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	return New(sender, payer, opts)
}

func crankInstr(t *testing.T, payer txn.Pubkey) txn.Instruction {
	t.Helper()
	program, err := txn.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	market, err := txn.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	oracle, err := txn.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	return txn.NewCrankInstruction(program.Pubkey(), payer, market.Pubkey(), oracle.Pubkey(), false)
}

func TestSubmit_Success(t *testing.T) {
	sender := &fakeSender{blockhashes: []string{"11111111111111111111111111111111"}}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Second})

	sig, err := s.Submit(context.Background(), "m1", []txn.Instruction{crankInstr(t, s.payer.Pubkey())})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sig != "sig-from-node" {
		t.Errorf("sig = %q", sig)
	}
	if sender.sendCalls != 1 || sender.hashCalls != 1 {
		t.Errorf("sends = %d, hashes = %d, want 1 each", sender.sendCalls, sender.hashCalls)
	}
}

func TestSubmit_DuplicateRejectedWithoutNodeCalls(t *testing.T) {
	sender := &fakeSender{blockhashes: []string{"11111111111111111111111111111111"}}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Minute})
	instrs := []txn.Instruction{crankInstr(t, s.payer.Pubkey())}

	if _, err := s.Submit(context.Background(), "m1", instrs); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := s.Submit(context.Background(), "m1", instrs)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if sender.hashCalls != 1 || sender.sendCalls != 1 {
		t.Errorf("duplicate reached the node: hashes = %d, sends = %d", sender.hashCalls, sender.sendCalls)
	}
	if s.GuardHits() != 1 {
		t.Errorf("GuardHits = %d, want 1", s.GuardHits())
	}
}

func TestSubmit_TransientRetriedWithFreshBlockhash(t *testing.T) {
	second, err := txn.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{
		blockhashes: []string{
			"11111111111111111111111111111111",
			second.Pubkey().String(),
		},
		sendErrs: []error{&rpc.RPCError{Code: -32005, Message: "node is behind"}},
	}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Second, MaxRetries: 3})

	sig, err := s.Submit(context.Background(), "m1", []txn.Instruction{crankInstr(t, s.payer.Pubkey())})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sig == "" {
		t.Error("empty signature")
	}
	if sender.sendCalls != 2 {
		t.Fatalf("sends = %d, want 2", sender.sendCalls)
	}
	if sender.hashCalls != 2 {
		t.Errorf("hashes = %d, want a fresh one per attempt", sender.hashCalls)
	}
	if bytes.Equal(sender.wires[0], sender.wires[1]) {
		t.Error("retried wire bytes identical; blockhash was reused")
	}
}

func TestSubmit_NonTransientFailsImmediately(t *testing.T) {
	sender := &fakeSender{
		blockhashes: []string{"11111111111111111111111111111111"},
		sendErrs:    []error{&rpc.RPCError{Code: -32002, Message: "precondition failed"}},
	}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Second, MaxRetries: 3})

	_, err := s.Submit(context.Background(), "m1", []txn.Instruction{crankInstr(t, s.payer.Pubkey())})
	if err == nil {
		t.Fatal("expected error")
	}
	var txErr *TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("err type %T, want *TxError", err)
	}
	if txErr.Permanent {
		t.Error("send rejection is not a permanent build failure")
	}
	if sender.sendCalls != 1 {
		t.Errorf("sends = %d, want 1", sender.sendCalls)
	}
}

func TestSubmit_RetriesExhausted(t *testing.T) {
	transient := &rpc.RPCError{HTTPStatus: 503, Message: "unavailable"}
	sender := &fakeSender{
		blockhashes: []string{"11111111111111111111111111111111"},
		sendErrs:    []error{transient, transient, transient},
	}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Second, MaxRetries: 2})

	_, err := s.Submit(context.Background(), "m1", []txn.Instruction{crankInstr(t, s.payer.Pubkey())})
	if err == nil {
		t.Fatal("expected error")
	}
	if sender.sendCalls != 3 {
		t.Errorf("sends = %d, want 3 (initial + 2 retries)", sender.sendCalls)
	}
}

func TestSubmit_OversizePermanentNoRetry(t *testing.T) {
	sender := &fakeSender{blockhashes: []string{"11111111111111111111111111111111"}}
	s := testSubmitter(t, sender, Options{GuardTTL: time.Second, MaxRetries: 3})

	big := crankInstr(t, s.payer.Pubkey())
	big.Data = make([]byte, 2*txn.MaxPacketSize)

	_, err := s.Submit(context.Background(), "m1", []txn.Instruction{big})
	var txErr *TxError
	if !errors.As(err, &txErr) || !txErr.Permanent {
		t.Fatalf("err = %v, want permanent TxError", err)
	}
	if !errors.Is(err, txn.ErrTooLarge) {
		t.Errorf("err should wrap ErrTooLarge, got %v", err)
	}
	if sender.sendCalls != 0 {
		t.Errorf("sends = %d, oversize transaction must never reach the node", sender.sendCalls)
	}
	if sender.hashCalls != 1 {
		t.Errorf("hashes = %d, permanent failure must not be retried", sender.hashCalls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"http 503", &rpc.RPCError{HTTPStatus: 503}, true},
		{"rate limited", &rpc.RPCError{HTTPStatus: 429}, true},
		{"node behind", &rpc.RPCError{Code: -32005}, true},
		{"precondition", &rpc.RPCError{Code: -32002}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
