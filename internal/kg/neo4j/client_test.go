package neo4j

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLucene(t *testing.T) {
	assert.Equal(t, "Hannah Bast", EscapeLucene("Hannah Bast"))
	assert.Equal(t, `C\+\+ \(language\)`, EscapeLucene("C++ (language)"))
	assert.Equal(t, `a\:b\?`, EscapeLucene("a:b?"))
	assert.Equal(t, `\\`, EscapeLucene(`\`))
}
