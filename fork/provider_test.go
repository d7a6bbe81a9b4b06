package fork

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tinyevm/tinyevm/cache"
	"github.com/tinyevm/tinyevm/rpcclient"
)

func TestProviderGetCodeCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"id":1,"jsonrpc":"2.0","result":"0x60ff"}`))
	}))
	defer srv.Close()

	p := NewProvider("eth", rpcclient.NewClient(srv.URL), cache.NewFSCacheAt(t.TempDir()))
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	block := uint64(100)

	code1, err := p.GetCode(context.Background(), addr, &block)
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	code2, err := p.GetCode(context.Background(), addr, &block)
	if err != nil {
		t.Fatalf("GetCode (cached): %v", err)
	}
	if common.Bytes2Hex(code1) != common.Bytes2Hex(code2) {
		t.Fatalf("cached code mismatch")
	}
	if calls != 1 {
		t.Fatalf("expected 1 RPC call, got %d", calls)
	}
}

func TestProviderClone(t *testing.T) {
	p := NewProvider("eth", rpcclient.NewClient("http://unused"), cache.NewFSCacheAt(t.TempDir()))
	clone := p.Clone()
	if clone.Chain != p.Chain {
		t.Fatalf("clone chain mismatch")
	}
}
