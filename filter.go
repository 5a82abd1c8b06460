package web3

import (
	"slices"

	"github.com/pkg/errors"
)

/*
Returns a copy of the handle with one indexed input constrained to any of the
given values. The input is named by its Go field name or its ABI name. Values
are encoded the way the EVM encodes topics: value types are padded to a word,
strings, bytes, arrays and tuples are hashed. Passing no values removes the
constraint.

	large := transfers.MustWhere("To", vault).MustWhere("From", alice, bob)
*/
func (self Event[E]) Where(field string, values ...any) (Event[E], error) {
	def, err := self.definition()
	if err != nil {
		return self, err
	}

	pos := -1
	var target abiField
	for _, candidate := range def.fields {
		if candidate.GoName == field || candidate.Name == field {
			if !candidate.Indexed {
				return self, contractualErrorf(`input %q of event %v is not indexed and can't be filtered on`, field, def.Name)
			}
			target = candidate
			pos++
			break
		}
		if candidate.Indexed {
			pos++
		}
	}
	if target.GoName == "" {
		return self, contractualErrorf(`event %v has no input %q`, def.Name, field)
	}

	var topic TopicFilter
	for _, value := range values {
		word, err := AbiEncodeTopic(target.Type, value)
		if err != nil {
			return self, errors.Wrapf(err, `failed to encode filter value for input %q of event %v`, field, def.Name)
		}
		topic = append(topic, word)
	}

	topics := make([]TopicFilter, len(def.IndexedInputs))
	copy(topics, self.topics)
	topics[pos] = topic
	self.topics = topics
	return self, nil
}

// Like "Where", but panics on error.
func (self Event[E]) MustWhere(field string, values ...any) Event[E] {
	out, err := self.Where(field, values...)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Returns a copy of the handle matching logs emitted by any of the given
addresses instead of its contract. With no addresses and a zero contract
address, logs of any emitter match.
*/
func (self Event[E]) Addresses(addrs ...Address) Event[E] {
	self.addresses = slices.Clone(addrs)
	return self
}

/*
Renders the "eth_getLogs" filter for the given block range. Topic0 is always
constrained; unconstrained indexed positions are wildcards that encode as
`null`, and trailing wildcards are dropped.
*/
func (self Event[E]) LogFilter(from, to BlockNumber) (LogFilter, error) {
	def, err := self.definition()
	if err != nil {
		return LogFilter{}, err
	}

	topics := make([]TopicFilter, 0, 1+len(self.topics))
	topics = append(topics, TopicFilter{def.Selector})
	topics = append(topics, self.topics...)

	return LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Address:   self.emitters(),
		Topics:    trimTopics(topics),
	}, nil
}

func (self Event[E]) emitters() []Address {
	if len(self.addresses) > 0 {
		return self.addresses
	}
	if self.contract.Address != ZeroAddress {
		return []Address{self.contract.Address}
	}
	return nil
}

// Reports whether the log satisfies this handle's emitter and topic constraints.
func (self Event[E]) Matches(log LogEntry) bool {
	filter, err := self.LogFilter(nil, nil)
	return err == nil && filter.Matches(log)
}
