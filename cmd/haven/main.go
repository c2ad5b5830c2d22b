// Command haven runs a local end-to-end demonstration: it opens a
// vault, authorizes a demo application through the IPC flow, stores a
// blob through the session and reads it back.
package main

import (
	"flag"
	"fmt"
	"log"

	haven "github.com/havenlab/haven"
	"github.com/havenlab/haven/pkg/authenticator"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config; omit for an in-memory run")
	flag.Parse()

	cfg := haven.Config{Vault: vault.Config{InMemory: true}}
	if *configPath != "" {
		loaded, err := haven.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	v, err := vault.New(cfg.Vault)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	defer v.Close()

	creds, err := authenticator.NewCredentials()
	if err != nil {
		log.Fatalf("generating credentials: %v", err)
	}
	auth, err := authenticator.New(v, creds, authenticator.Config{Bootstrap: []byte("local")})
	if err != nil {
		log.Fatalf("starting authenticator: %v", err)
	}

	_, token, err := ipc.EncodeRequest(ipc.AuthReq{
		App: types.AppIdentity{ID: "org.haven.demo", Name: "Haven Demo", Vendor: "Haven"},
		Containers: []ipc.ContainerPermissions{
			{Name: "_demo", Access: types.PermissionSet{Read: true, Insert: true}},
		},
	})
	if err != nil {
		log.Fatalf("encoding request: %v", err)
	}
	reqID, _, err := auth.HandleRequest(token)
	if err != nil {
		log.Fatalf("handling request: %v", err)
	}
	respToken, err := auth.Grant(reqID)
	if err != nil {
		log.Fatalf("granting: %v", err)
	}
	_, resp, err := ipc.DecodeResponse(respToken)
	if err != nil {
		log.Fatalf("decoding response: %v", err)
	}
	granted, ok := resp.(*ipc.AuthGranted)
	if !ok {
		log.Fatalf("unexpected response %T", resp)
	}

	session := haven.NewAppSession(v, "org.haven.demo", granted, cfg)
	defer session.Close()

	writerH := session.NewSelfEncryptor()
	if err := session.SelfEncryptorWrite(writerH, []byte("hello haven")); err != nil {
		log.Fatalf("writing blob: %v", err)
	}
	optH := session.NewSymmetricCipherOpt()
	addr, err := session.SelfEncryptorClose(writerH, optH)
	if err != nil {
		log.Fatalf("closing blob: %v", err)
	}

	readerH, err := session.FetchSelfEncryptor(addr)
	if err != nil {
		log.Fatalf("opening blob: %v", err)
	}
	size, err := session.SelfEncryptorSize(readerH)
	if err != nil {
		log.Fatalf("sizing blob: %v", err)
	}
	data, err := session.SelfEncryptorRead(readerH, 0, size)
	if err != nil {
		log.Fatalf("reading blob: %v", err)
	}

	fmt.Printf("stored %d bytes at %s: %q\n", size, addr, data)
}
