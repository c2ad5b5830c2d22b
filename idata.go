package haven

import (
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/handles"
	"github.com/havenlab/haven/pkg/immutable"
	"github.com/havenlab/haven/pkg/types"
)

// NewPlainCipherOpt creates a handle for storing content unencrypted.
func (s *Session) NewPlainCipherOpt() handles.Handle {
	return s.reg.Put(handles.KindCipherOpt, types.PlainCipherOpt())
}

// NewSymmetricCipherOpt creates a handle for sealing content under the
// session's symmetric key.
func (s *Session) NewSymmetricCipherOpt() handles.Handle {
	return s.reg.Put(handles.KindCipherOpt, types.SymmetricCipherOpt())
}

// NewAsymmetricCipherOpt creates a handle for sealing content so only
// the holder of the matching secret key can read it.
func (s *Session) NewAsymmetricCipherOpt(peer types.BoxPubKey) handles.Handle {
	return s.reg.Put(handles.KindCipherOpt, types.AsymmetricCipherOpt(peer))
}

// NewSelfEncryptor opens a writer for one immutable blob.
func (s *Session) NewSelfEncryptor() handles.Handle {
	return s.reg.Put(handles.KindWriter, immutable.NewWriter(s.vault))
}

func (s *Session) writer(h handles.Handle) (*immutable.Writer, error) {
	return handles.Resolve[*immutable.Writer](s.reg, h, handles.KindWriter)
}

// SelfEncryptorWrite appends bytes to a pending blob.
func (s *Session) SelfEncryptorWrite(h handles.Handle, p []byte) error {
	w, err := s.writer(h)
	if err != nil {
		return err
	}
	_, err = w.Write(p)
	return err
}

// SelfEncryptorClose finalizes the blob under the cipher opt and
// returns its content address. The writer handle stays live until the
// caller frees it; freeing without closing discards the data.
func (s *Session) SelfEncryptorClose(writerH, optH handles.Handle) (types.XorName, error) {
	const op = "haven.SelfEncryptorClose"

	w, err := s.writer(writerH)
	if err != nil {
		return types.XorName{}, err
	}
	opt, err := handles.Resolve[types.CipherOpt](s.reg, optH, handles.KindCipherOpt)
	if err != nil {
		return types.XorName{}, err
	}
	if opt.Kind != types.CipherPlain && s.keys == nil {
		return types.XorName{}, errs.Errorf(op, errs.CryptoError, "session has no keys for encrypted content")
	}
	addr, err := w.Close(opt, s.keys)
	if err != nil {
		return types.XorName{}, err
	}
	s.log.WithField("address", addr.String()).Debug("immutable blob stored")
	return addr, nil
}

// FetchSelfEncryptor opens a reader over the blob at addr.
func (s *Session) FetchSelfEncryptor(addr types.XorName) (handles.Handle, error) {
	r, err := immutable.OpenReader(s.vault, addr, s.keys)
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindReader, r), nil
}

func (s *Session) reader(h handles.Handle) (*immutable.Reader, error) {
	return handles.Resolve[*immutable.Reader](s.reg, h, handles.KindReader)
}

// SelfEncryptorSize reports the plaintext size of an open blob.
func (s *Session) SelfEncryptorSize(h handles.Handle) (uint64, error) {
	r, err := s.reader(h)
	if err != nil {
		return 0, err
	}
	return r.Size(), nil
}

// SelfEncryptorRead reads a sub-range of an open blob, decrypting only
// the chunks the range touches.
func (s *Session) SelfEncryptorRead(h handles.Handle, offset, length uint64) ([]byte, error) {
	r, err := s.reader(h)
	if err != nil {
		return nil, err
	}
	return r.Read(offset, length)
}
