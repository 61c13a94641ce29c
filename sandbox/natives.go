package sandbox

import (
	"strconv"

	"github.com/robertkrimen/otto"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/utils"
)

func installNatives(vm *otto.Otto) error {
	natives := map[string]func(otto.FunctionCall) otto.Value{
		"rc4Decrypt":   rc4Decrypt,
		"shuffleArray": shuffleArray,
		"atob":         atob,
		"btoa":         btoa,
	}
	for name, fn := range natives {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func throw(call otto.FunctionCall, name string, err error) {
	panic(call.Otto.MakeCustomError(name, err.Error()))
}

func toValue(call otto.FunctionCall, s string) otto.Value {
	v, err := call.Otto.ToValue(s)
	if err != nil {
		throw(call, "TypeError", err)
	}
	return v
}

// rc4Decrypt(data, key)
func rc4Decrypt(call otto.FunctionCall) otto.Value {
	data, err := call.Argument(0).ToString()
	if err != nil {
		throw(call, "TypeError", err)
	}
	key, err := call.Argument(1).ToString()
	if err != nil {
		throw(call, "TypeError", err)
	}
	out, err := utils.RC4Decrypt(data, key)
	if err != nil {
		throw(call, "URIError", err)
	}
	return toValue(call, out)
}

// shuffleArray(array, amount) rotates array in place.
func shuffleArray(call otto.FunctionCall) otto.Value {
	arr := call.Argument(0).Object()
	if arr == nil {
		panic(call.Otto.MakeTypeError("shuffleArray: first argument is not an array"))
	}
	amount, err := call.Argument(1).ToInteger()
	if err != nil {
		throw(call, "TypeError", err)
	}
	lengthValue, err := arr.Get("length")
	if err != nil {
		throw(call, "TypeError", err)
	}
	length, err := lengthValue.ToInteger()
	if err != nil {
		throw(call, "TypeError", err)
	}

	items := make([]otto.Value, length)
	for i := range items {
		if items[i], err = arr.Get(strconv.Itoa(i)); err != nil {
			throw(call, "TypeError", err)
		}
	}
	for i, v := range utils.Rotate(items, amount) {
		if err := arr.Set(strconv.Itoa(i), v); err != nil {
			throw(call, "TypeError", err)
		}
	}
	return otto.UndefinedValue()
}

func atob(call otto.FunctionCall) otto.Value {
	in, err := call.Argument(0).ToString()
	if err != nil {
		throw(call, "TypeError", err)
	}
	raw, err := utils.Atob(in)
	if err != nil {
		throw(call, "InvalidCharacterError", err)
	}
	return toValue(call, utils.BinaryString(raw))
}

func btoa(call otto.FunctionCall) otto.Value {
	in, err := call.Argument(0).ToString()
	if err != nil {
		throw(call, "TypeError", err)
	}
	out, err := utils.Btoa(in)
	if err != nil {
		throw(call, "InvalidCharacterError", err)
	}
	return toValue(call, out)
}
