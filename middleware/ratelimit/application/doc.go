// Package application contém os casos de uso do admission control.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Gate.Admit(ctx, identity, method, path) classifica a rota, resolve a chave,
// consome do store distribuído (ou do local, em modo degradado) e retorna uma Decision.
package application
