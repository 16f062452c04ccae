package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ivanfioravanti/SiLLM/internal/nn"
)

// Attention holds the four attention projections of a transformer block.
type Attention struct {
	path           string
	wq, wk, wv, wo nn.Projection
}

func (a *Attention) Path() string     { return a.path }
func (a *Attention) SetPath(p string) { a.path = p }

func (a *Attention) Children() []nn.Child {
	return []nn.Child{
		{Name: "wq", Module: a.wq},
		{Name: "wk", Module: a.wk},
		{Name: "wv", Module: a.wv},
		{Name: "wo", Module: a.wo},
	}
}

func (a *Attention) SetChild(name string, m nn.Module) error {
	p, ok := m.(nn.Projection)
	if !ok {
		return fmt.Errorf("attention child %q must be a projection, have %T", name, m)
	}
	switch name {
	case "wq":
		a.wq = p
	case "wk":
		a.wk = p
	case "wv":
		a.wv = p
	case "wo":
		a.wo = p
	default:
		return fmt.Errorf("attention has no child %q", name)
	}
	return nil
}

// FeedForward is the gated MLP: w1 and w3 project in, w2 projects back.
type FeedForward struct {
	path       string
	w1, w2, w3 nn.Projection
}

func (f *FeedForward) Path() string     { return f.path }
func (f *FeedForward) SetPath(p string) { f.path = p }

func (f *FeedForward) Children() []nn.Child {
	return []nn.Child{
		{Name: "w1", Module: f.w1},
		{Name: "w2", Module: f.w2},
		{Name: "w3", Module: f.w3},
	}
}

func (f *FeedForward) SetChild(name string, m nn.Module) error {
	p, ok := m.(nn.Projection)
	if !ok {
		return fmt.Errorf("feed_forward child %q must be a projection, have %T", name, m)
	}
	switch name {
	case "w1":
		f.w1 = p
	case "w2":
		f.w2 = p
	case "w3":
		f.w3 = p
	default:
		return fmt.Errorf("feed_forward has no child %q", name)
	}
	return nil
}

// MoEFeedForward routes through a gate over independent expert MLPs. The
// gate projects to one logit per expert, so its output width equals the
// expert count.
type MoEFeedForward struct {
	path    string
	gate    nn.Projection
	experts []*FeedForward
}

func (f *MoEFeedForward) Path() string     { return f.path }
func (f *MoEFeedForward) SetPath(p string) { f.path = p }

func (f *MoEFeedForward) Children() []nn.Child {
	ch := make([]nn.Child, 0, len(f.experts)+1)
	ch = append(ch, nn.Child{Name: "gate", Module: f.gate})
	for i, e := range f.experts {
		ch = append(ch, nn.Child{Name: "experts." + strconv.Itoa(i), Module: e})
	}
	return ch
}

func (f *MoEFeedForward) SetChild(name string, m nn.Module) error {
	if name == "gate" {
		p, ok := m.(nn.Projection)
		if !ok {
			return fmt.Errorf("gate must be a projection, have %T", m)
		}
		f.gate = p
		return nil
	}
	if idx, ok := strings.CutPrefix(name, "experts."); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(f.experts) {
			return fmt.Errorf("moe has no child %q", name)
		}
		e, ok := m.(*FeedForward)
		if !ok {
			return fmt.Errorf("expert %d must be a feed_forward, have %T", i, m)
		}
		f.experts[i] = e
		return nil
	}
	return fmt.Errorf("moe has no child %q", name)
}

// TransformerBlock pairs an attention with a feed-forward, each behind its
// own norm.
type TransformerBlock struct {
	path          string
	attention     *Attention
	feedForward   nn.Container
	attentionNorm *nn.RMSNorm
	ffnNorm       *nn.RMSNorm
}

func (b *TransformerBlock) Path() string     { return b.path }
func (b *TransformerBlock) SetPath(p string) { b.path = p }

func (b *TransformerBlock) Children() []nn.Child {
	return []nn.Child{
		{Name: "attention", Module: b.attention},
		{Name: "feed_forward", Module: b.feedForward},
		{Name: "attention_norm", Module: b.attentionNorm},
		{Name: "ffn_norm", Module: b.ffnNorm},
	}
}

func (b *TransformerBlock) SetChild(name string, m nn.Module) error {
	switch name {
	case "attention":
		a, ok := m.(*Attention)
		if !ok {
			return fmt.Errorf("attention slot cannot hold %T", m)
		}
		b.attention = a
	case "feed_forward":
		c, ok := m.(nn.Container)
		if !ok {
			return fmt.Errorf("feed_forward slot cannot hold %T", m)
		}
		b.feedForward = c
	case "attention_norm":
		n, ok := m.(*nn.RMSNorm)
		if !ok {
			return fmt.Errorf("attention_norm slot cannot hold %T", m)
		}
		b.attentionNorm = n
	case "ffn_norm":
		n, ok := m.(*nn.RMSNorm)
		if !ok {
			return fmt.Errorf("ffn_norm slot cannot hold %T", m)
		}
		b.ffnNorm = n
	default:
		return fmt.Errorf("block has no child %q", name)
	}
	return nil
}
