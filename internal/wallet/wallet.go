// Package wallet manages Ed25519 keypairs and the outputs they own, and
// builds signed transactions from them.
package wallet

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

// ErrNotEnoughFunds is returned when the wallet cannot cover a payment.
var ErrNotEnoughFunds = stderrors.New("not enough funds")

type keypair struct {
	priv ed25519.PrivateKey
	pub  protocol.PubKey
}

type walletUTXO struct {
	txid   protocol.Hash
	index  uint32
	pubkey protocol.PubKey
	amount uint64
	height int64
}

// Wallet tracks keys and the unspent outputs they control. Balances only
// count outputs buried under enough confirmations; spending is allowed on
// any owned output. Safe for concurrent use.
type Wallet struct {
	mu      sync.Mutex
	bc      *chain.Blockchain
	path    string
	keys    []keypair
	utxos   []walletUTXO
	current *protocol.Block
	logger  *log.Logger
}

// Open loads the wallet file at path, creating it with a fresh key when it
// does not exist yet.
func Open(bc *chain.Blockchain, path string, logger *log.Logger) (*Wallet, error) {
	w := &Wallet{
		bc:     bc,
		path:   path,
		logger: logger.WithComponent("wallet"),
	}
	if err := w.load(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) load() error {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		if _, err := w.NewAddress(); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "wallet_load", "opening wallet file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		privHex, pubHex, ok := strings.Cut(line, ":")
		if !ok {
			return errors.New(errors.ErrorTypeWallet, "wallet_load", "malformed wallet line")
		}
		priv, err := hex.DecodeString(privHex)
		if err != nil || len(priv) != protocol.PrivKeyLen {
			return errors.New(errors.ErrorTypeWallet, "wallet_load", "malformed private key")
		}
		pub, err := protocol.PubKeyFromString(pubHex)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "wallet_load", "malformed public key")
		}
		w.keys = append(w.keys, keypair{priv: ed25519.PrivateKey(priv), pub: pub})
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "wallet_load", "reading wallet file")
	}
	w.logger.Info("wallet loaded", "keys", len(w.keys))
	return nil
}

// save writes all keys as hex priv:pub lines. Caller holds w.mu.
func (w *Wallet) save() error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "wallet_save", "creating wallet dir")
		}
	}
	var sb strings.Builder
	for _, k := range w.keys {
		fmt.Fprintf(&sb, "%s:%s\n", hex.EncodeToString(k.priv), hex.EncodeToString(k.pub[:]))
	}
	if err := os.WriteFile(w.path, []byte(sb.String()), 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "wallet_save", "writing wallet file")
	}
	return nil
}

// NewAddress generates a keypair, persists it and returns the address.
func (w *Wallet) NewAddress() (protocol.PubKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return protocol.PubKey{}, errors.Wrap(err, errors.ErrorTypeWallet,
			"new_address", "generating keypair")
	}
	var addr protocol.PubKey
	copy(addr[:], pub)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, keypair{priv: priv, pub: addr})
	if err := w.save(); err != nil {
		return protocol.PubKey{}, err
	}
	return addr, nil
}

// Addresses returns every address in the wallet.
func (w *Wallet) Addresses() []protocol.PubKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	addrs := make([]protocol.PubKey, len(w.keys))
	for i, k := range w.keys {
		addrs[i] = k.pub
	}
	return addrs
}

// refresh rebuilds the owned-output cache from the chain's UTXO set when the
// head moved since the last call. Caller holds w.mu.
func (w *Wallet) refresh() {
	head := w.bc.Head()
	if w.current == head {
		return
	}

	owned := make(map[protocol.PubKey]bool, len(w.keys))
	for _, k := range w.keys {
		owned[k.pub] = true
	}

	w.utxos = w.utxos[:0]
	w.bc.UTXOCopy().Range(func(txid protocol.Hash, index uint32, e chain.UTXOEntry) bool {
		if owned[e.Output.PubKey] {
			w.utxos = append(w.utxos, walletUTXO{
				txid:   txid,
				index:  index,
				pubkey: e.Output.PubKey,
				amount: e.Output.Amount,
				height: e.Height,
			})
		}
		return true
	})
	// Map iteration order is random; keep spends deterministic.
	sort.Slice(w.utxos, func(i, j int) bool {
		if w.utxos[i].height != w.utxos[j].height {
			return w.utxos[i].height < w.utxos[j].height
		}
		return w.utxos[i].index < w.utxos[j].index
	})
	w.current = head
}

// Balance returns the confirmed balance of the given address, or of the
// whole wallet when addr is nil. Outputs need MinConfirmations blocks on top
// of them to count.
func (w *Wallet) Balance(addr *protocol.PubKey) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refresh()

	tipHeight := w.current.Height()
	var balance uint64
	for _, u := range w.utxos {
		if addr != nil && u.pubkey != *addr {
			continue
		}
		if u.height <= tipHeight-protocol.MinConfirmations {
			balance += u.amount
		}
	}
	return balance
}

// CreateTransaction builds a signed transaction paying the given receivers
// plus the fee, with change returned to a fresh address. Returns
// ErrNotEnoughFunds when the wallet cannot cover the total.
func (w *Wallet) CreateTransaction(receivers map[protocol.PubKey]uint64, fee uint64) (*protocol.Transaction, error) {
	w.mu.Lock()
	w.refresh()

	needed := fee
	outputs := make([]*protocol.Output, 0, len(receivers)+1)
	for pubkey, amount := range receivers {
		outputs = append(outputs, &protocol.Output{Amount: amount, PubKey: pubkey})
		needed += amount
	}
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].PubKey.String() < outputs[j].PubKey.String()
	})

	var inputs []*protocol.Input
	var inputKeys []protocol.PubKey
	var gathered uint64
	for _, u := range w.utxos {
		inputs = append(inputs, &protocol.Input{TxID: u.txid, Index: u.index})
		inputKeys = append(inputKeys, u.pubkey)
		gathered += u.amount
		if gathered >= needed {
			break
		}
	}
	keys := make(map[protocol.PubKey]ed25519.PrivateKey, len(w.keys))
	for _, k := range w.keys {
		keys[k.pub] = k.priv
	}
	w.mu.Unlock()

	if gathered < needed {
		return nil, errors.Wrap(ErrNotEnoughFunds, errors.ErrorTypeWallet,
			"create_transaction", "wallet cannot cover payment").
			WithContext("needed", needed).
			WithContext("available", gathered)
	}

	if change := gathered - needed; change > 0 {
		changeAddr, err := w.NewAddress()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, &protocol.Output{Amount: change, PubKey: changeAddr})
	}

	tx := &protocol.Transaction{Inputs: inputs, Outputs: outputs}
	txid := tx.TxID()
	for i, in := range tx.Inputs {
		priv, ok := keys[inputKeys[i]]
		if !ok {
			return nil, errors.New(errors.ErrorTypeWallet, "create_transaction",
				"missing private key for owned output")
		}
		copy(in.Signature[:], ed25519.Sign(priv, txid[:]))
	}
	return tx, nil
}
