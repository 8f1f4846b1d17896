package code

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoInterpreter_Program(t *testing.T) {
	g := NewGoInterpreter()

	out, err := g.Execute(context.Background(), `package main

import "fmt"

func main() {
	fmt.Println(6 * 7)
}`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
	assert.Equal(t, "go", g.Language())
}

func TestGoInterpreter_Expression(t *testing.T) {
	g := NewGoInterpreter()

	out, err := g.Execute(context.Background(), "6 * 7")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestGoInterpreter_ForbiddenImport(t *testing.T) {
	g := NewGoInterpreter()

	_, err := g.Execute(context.Background(), `package main

import (
	"fmt"
	"os"
)

func main() { fmt.Println(os.Getpid()) }`)
	require.ErrorIs(t, err, ErrForbiddenImport)
	assert.Contains(t, err.Error(), "os")
}

func TestGoInterpreter_SyntaxError(t *testing.T) {
	g := NewGoInterpreter()

	_, err := g.Execute(context.Background(), "package main\nfunc main( {")
	require.Error(t, err)

	_, err = g.Execute(context.Background(), "   ")
	require.Error(t, err)
}

func TestGoInterpreter_Timeout(t *testing.T) {
	g := NewGoInterpreter(func(o *GoOptions) { o.Timeout = 100 * time.Millisecond })

	start := time.Now()
	_, err := g.Execute(context.Background(), `package main

func main() {
	for {
	}
}`)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGoInterpreter_Truncate(t *testing.T) {
	g := NewGoInterpreter(func(o *GoOptions) { o.MaxOutput = 4 })
	assert.True(t, strings.HasPrefix(g.truncate("abcdefgh"), "abcd"))
	assert.Equal(t, "abc", g.truncate("abc"))
}
