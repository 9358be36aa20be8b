/*
Package raft implements a replicated key-value store coordinated by the Raft consensus protocol. Each node keeps an
in-memory log of key-value mutations. The leader replicates the log to its followers, and once an entry is stored on a
majority of the cluster it is committed and applied, in log order, to every node's store.

A node is created from its ID and the addresses of every member of the cluster. Committed entries are applied to the
store passed to NewRaft; the store package provides an ordered in-memory implementation.

	peers := map[string]string{
	    "node-1": "127.0.0.1:8080",
	    "node-2": "127.0.0.1:8081",
	    "node-3": "127.0.0.1:8082",
	}

	transport, err := raft.NewTransport(peers["node-1"])
	if err != nil {
	    panic(err)
	}

	node, err := raft.NewRaft("node-1", peers, store.New(), raft.WithTransport(transport))
	if err != nil {
	    panic(err)
	}

	if err := node.Start(); err != nil {
	    panic(err)
	}
	defer node.Stop()

Writes and deletes are submitted to the leader. SubmitCommand returns a future that resolves once the command has been
applied to the leader's store. A node that is not the leader resolves the future with a *NotLeaderError naming the last
known leader, so that the client can retry there.

	future := node.SubmitCommand(raft.Command{Op: raft.Write, Key: "a", Value: "1"})
	response := future.Await()
	if err := response.Error(); err != nil {
	    var notLeader *raft.NotLeaderError
	    if errors.As(err, &notLeader) {
	        // Retry at notLeader.LeaderAddress.
	    }
	    return err
	}

Reads are served from the local store and are not linearizable: a follower may return a value that has since been
overwritten on the leader.

	value, ok := node.Read("a")

By default nodes exchange RPCs over gRPC using the transport returned by NewTransport. Any implementation of the
Transport interface may be supplied with WithTransport; the server package additionally exposes both RPCs over HTTP.
*/
package raft
